package metadata

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pierrec/lz4/v4"

	"github.com/kquery/kquery/internal/kqerr"
)

// Coding identifies a serialisation format.
type Coding int

const (
	JSON Coding = iota
	JSONPretty
	CBOR
)

func (c Coding) String() string {
	switch c {
	case JSON:
		return "json"
	case JSONPretty:
		return "json-pretty"
	case CBOR:
		return "cbor"
	default:
		return "unknown"
	}
}

// ParseCoding accepts the short and long forms kquery's CLI and
// KQUERY_CODING recognise.
func ParseCoding(s string) (Coding, error) {
	switch s {
	case "j", "json":
		return JSON, nil
	case "jp", "json-pretty":
		return JSONPretty, nil
	case "c", "cbor":
		return CBOR, nil
	default:
		return 0, kqerr.New(kqerr.Config, s, "unsupported data coding")
	}
}

// Compress identifies a compression scheme applied after serialisation.
type Compress int

const (
	NoCompress Compress = iota
	LZ4
)

func (c Compress) String() string {
	switch c {
	case NoCompress:
		return "no"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// ParseCompress accepts the short and long forms kquery's CLI and
// KQUERY_COMPRESS recognise.
func ParseCompress(s string) (Compress, error) {
	switch s {
	case "n", "no":
		return NoCompress, nil
	case "z", "lz4":
		return LZ4, nil
	default:
		return 0, kqerr.New(kqerr.Config, s, "unsupported data compression")
	}
}

// Options selects a coding×compression combination.
type Options struct {
	Coding   Coding
	Compress Compress
}

// baseName is the file stem shared by every canonical index file name.
const baseName = "kquery"

// FileName returns the canonical on-disk file name for opts.
func (o Options) FileName() string {
	var ext string
	switch o.Coding {
	case JSON, JSONPretty:
		ext = "json"
	case CBOR:
		ext = "cbor"
	}
	name := baseName + "." + ext
	if o.Compress == LZ4 {
		name += ".lz4"
	}
	return name
}

// fileNames enumerates every canonical name FindFile searches for.
var fileNames = []string{
	baseName + ".json",
	baseName + ".cbor",
	baseName + ".json.lz4",
	baseName + ".cbor.lz4",
}

// OptionsFromFileName infers coding/compression from a canonical file
// name's extensions.
func OptionsFromFileName(name string) (Options, error) {
	base := name
	compress := NoCompress
	if ext := filepath.Ext(base); ext == ".lz4" {
		compress = LZ4
		base = base[:len(base)-len(ext)]
	}

	switch filepath.Ext(base) {
	case ".json":
		return Options{Coding: JSON, Compress: compress}, nil
	case ".cbor":
		return Options{Coding: CBOR, Compress: compress}, nil
	default:
		return Options{}, kqerr.New(kqerr.Config, name, "unable to determine data coding from file name")
	}
}

// FindFile picks the most-recently-modified canonical index file under
// dir, or ok=false if none exist.
func FindFile(dir string) (path string, ok bool, err error) {
	var bestTime time.Time
	for _, name := range fileNames {
		candidate := filepath.Join(dir, name)
		info, statErr := os.Stat(candidate)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue
			}
			return "", false, kqerr.Wrap(kqerr.IO, candidate, "stat metadata file", statErr)
		}
		if !ok || info.ModTime().After(bestTime) {
			path, bestTime, ok = candidate, info.ModTime(), true
		}
	}
	return path, ok, nil
}

// ToRaw serialises store's authoritative source map under opts. Only
// the source map is persisted; reverse indices are always recomputed
// on load.
func ToRaw(store *Store, opts Options) ([]byte, error) {
	var data []byte
	var err error

	switch opts.Coding {
	case JSON:
		data, err = json.Marshal(store.Sources)
	case JSONPretty:
		data, err = json.MarshalIndent(store.Sources, "", "  ")
	case CBOR:
		em, encErr := cbor.CanonicalEncOptions().EncMode()
		if encErr != nil {
			return nil, kqerr.Wrap(kqerr.Parse, "", "build canonical cbor encoder", encErr)
		}
		data, err = em.Marshal(store.Sources)
	default:
		return nil, kqerr.New(kqerr.Config, opts.Coding.String(), "unsupported data coding")
	}
	if err != nil {
		return nil, kqerr.Wrap(kqerr.Parse, "", "encode metadata", err)
	}

	if opts.Compress == LZ4 {
		data, err = compressLZ4(data)
		if err != nil {
			return nil, kqerr.Wrap(kqerr.IO, "", "compress metadata", err)
		}
	}

	return data, nil
}

// FromRaw deserialises data under opts into a freshly derived Store.
func FromRaw(data []byte, opts Options) (*Store, error) {
	if opts.Compress == LZ4 {
		decompressed, err := decompressLZ4(data)
		if err != nil {
			return nil, kqerr.Wrap(kqerr.Parse, "", "decompress metadata", err)
		}
		data = decompressed
	}

	sources := make(map[string]*Source)
	var err error
	switch opts.Coding {
	case JSON, JSONPretty:
		err = json.Unmarshal(data, &sources)
	case CBOR:
		err = cbor.Unmarshal(data, &sources)
	default:
		return nil, kqerr.New(kqerr.Config, opts.Coding.String(), "unsupported data coding")
	}
	if err != nil {
		return nil, kqerr.Wrap(kqerr.Parse, "", "decode metadata", err)
	}

	store := &Store{Sources: sources}
	store.Derive()
	return store, nil
}

// ReadFile loads and derives a Store from path under opts.
func ReadFile(path string, opts Options) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kqerr.Wrap(kqerr.IO, path, "read metadata file", err)
	}
	return FromRaw(data, opts)
}

// WriteFile serialises store into dir under opts, using the canonical
// file name for that combination.
func WriteFile(store *Store, dir string, opts Options) (string, error) {
	data, err := ToRaw(store, opts)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, opts.FileName())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", kqerr.Wrap(kqerr.IO, path, "write metadata file", err)
	}
	return path, nil
}

// compressLZ4 matches the reference implementation's on-disk shape: a
// little-endian 32-bit uncompressed-size prefix followed by a raw LZ4
// block (pierrec/lz4's block API, not its framed Writer/Reader, since
// readers expect the simpler lz4_flex-style prepended-size shape with
// no frame header).
func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	body := make([]byte, bound)

	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(data, body)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// pierrec/lz4 returns n==0, no error, when src doesn't shrink.
		// Encode it as a single all-literals LZ4 sequence instead —
		// the one shape a real LZ4 block uses for incompressible
		// input — so the block always decodes through the same
		// decompressor.
		body = encodeLiteralBlock(data)
	} else {
		body = body[:n]
	}

	out := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(data)))
	out = append(out, body...)
	return out, nil
}

// encodeLiteralBlock builds the one valid LZ4 block shape for data no
// match can shrink: a single token whose literal-length field (with
// 0xFF continuation bytes for lengths ≥ 15) is followed by the literal
// bytes themselves and nothing else, since this is the block's only
// and final sequence.
func encodeLiteralBlock(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/255+8)

	litLen := len(data)
	tokenLit := litLen
	if tokenLit > 15 {
		tokenLit = 15
	}
	out = append(out, byte(tokenLit<<4))

	if litLen >= 15 {
		remaining := litLen - 15
		for remaining >= 255 {
			out = append(out, 255)
			remaining -= 255
		}
		out = append(out, byte(remaining))
	}

	return append(out, data...)
}

func decompressLZ4(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("lz4: truncated size prefix")
	}
	size := binary.LittleEndian.Uint32(data[:4])

	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}
	n, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
