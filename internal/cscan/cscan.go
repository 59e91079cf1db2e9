// Package cscan implements the per-source-file C scanner: it walks a
// clex token stream and recognises `.compatible = "..."` initializers,
// MODULE_* annotation macros, and module_param* declarations. It is a
// state machine over lexemes, not a C parser — any token shape it
// doesn't recognise resets it back to the top level.
package cscan

import (
	"strings"

	"github.com/kquery/kquery/internal/clex"
)

// Param is one module_param*/module_param_named* declaration.
type Param struct {
	Name        string
	Type        string
	Perm        uint16
	Description string
}

// Module holds the MODULE_* annotations and module_param* declarations
// found in a source file.
type Module struct {
	Description string
	License     string
	Authors     []string
	Aliases     []string
	Params      map[string]*Param
}

func newModule() *Module {
	return &Module{Params: make(map[string]*Param)}
}

// IsEmpty reports whether no annotation was ever recorded.
func (m *Module) IsEmpty() bool {
	return m.Description == "" && m.License == "" && len(m.Authors) == 0 &&
		len(m.Aliases) == 0 && len(m.Params) == 0
}

// Result is the outcome of scanning one source file.
type Result struct {
	CompatStrs map[string]bool
	Module     *Module // nil if no module annotation was found
}

// moduleStrKind identifies which MODULE_* string macro is being parsed.
type moduleStrKind int

const (
	strDescription moduleStrKind = iota
	strAuthor
	strLicense
	strAlias
)

// stateKind identifies where in a recognised shape the scanner currently
// is. The zero value is top-level.
type stateKind int

const (
	stTopLevel stateKind = iota
	stDot
	stDotCompat
	stDotCompatEq
	stDotCompatEqString

	stModuleStr
	stModuleStrLParen
	stModuleStrLParenStr

	stModulePar
	stModuleParLParen
	stModuleParLParenName
	stModuleParLParenNameComma
	stModuleParLParenNameCommaVar
	stModuleParLParenNameCommaVarComma
	stModuleParLParenNameCommaType
	stModuleParLParenNameCommaTypeComma
	stModuleParLParenNameCommaTypeCommaPerm

	stModuleParDesc
	stModuleParDescLParen
	stModuleParDescLParenName
	stModuleParDescLParenNameComma
	stModuleParDescLParenNameCommaStr
)

type scanState struct {
	kind  stateKind
	usafe bool
	named bool
	name  string
	typ   string
	perm  uint16
	str   string
	sk    moduleStrKind
}

// Scan tokenises src with clex and runs the recognition state machine
// over every non-Comment lexeme.
func Scan(src string) Result {
	res := Result{CompatStrs: make(map[string]bool)}
	var module *Module

	lx := clex.New(src)
	st := scanState{kind: stTopLevel}

	for {
		lex, ok := lx.Next()
		if !ok {
			break
		}
		if lex.Token == clex.Comment {
			continue
		}

		// A token either extends the in-progress shape (and the state
		// machine asks to continue to the next lexeme without
		// resetting) or it doesn't, in which case the state resets to
		// top level and this same token is simply dropped — it is not
		// re-examined as the start of a new shape.
		next, advance := step(st, lex, res.CompatStrs, &module)
		if advance {
			st = next
		} else {
			st = scanState{kind: stTopLevel}
		}
	}

	res.Module = module
	return res
}

func step(st scanState, lex clex.Lexeme, compats map[string]bool, module **Module) (scanState, bool) {
	isSym := func(s string) bool { return lex.Token == clex.Symbol && lex.Slice == s }

	switch st.kind {
	case stTopLevel:
		if isSym(".") {
			return scanState{kind: stDot}, true
		}
		if lex.Token == clex.Identifier {
			if rest, ok := strings.CutPrefix(lex.Slice, "MODULE_"); ok {
				switch rest {
				case "DESCRIPTION":
					return scanState{kind: stModuleStr, sk: strDescription}, true
				case "LICENSE":
					return scanState{kind: stModuleStr, sk: strLicense}, true
				case "AUTHOR":
					return scanState{kind: stModuleStr, sk: strAuthor}, true
				case "ALIAS":
					return scanState{kind: stModuleStr, sk: strAlias}, true
				case "PARM_DESC":
					return scanState{kind: stModuleParDesc}, true
				}
			} else if rest, ok := strings.CutPrefix(lex.Slice, "module_param"); ok {
				switch rest {
				case "":
					return scanState{kind: stModulePar, usafe: false, named: false}, true
				case "_unsafe":
					return scanState{kind: stModulePar, usafe: true, named: false}, true
				case "_named":
					return scanState{kind: stModulePar, usafe: false, named: true}, true
				case "_named_unsafe":
					return scanState{kind: stModulePar, usafe: true, named: true}, true
				}
			}
		}
		return st, false

	case stDot:
		if lex.Token == clex.Identifier && lex.Slice == "compatible" {
			return scanState{kind: stDotCompat}, true
		}
		return st, false

	case stDotCompat:
		if isSym("=") {
			return scanState{kind: stDotCompatEq}, true
		}
		return st, false

	case stDotCompatEq:
		if lex.Token == clex.String {
			if s, ok := lex.String(); ok {
				return scanState{kind: stDotCompatEqString, str: s}, true
			}
		}
		return st, false

	case stDotCompatEqString:
		if isSym(",") || isSym("}") {
			compats[st.str] = true
		}
		return st, false

	case stModuleStr:
		if isSym("(") {
			return scanState{kind: stModuleStrLParen, sk: st.sk}, true
		}
		return st, false

	case stModuleStrLParen:
		if lex.Token == clex.String {
			if s, ok := lex.String(); ok {
				return scanState{kind: stModuleStrLParenStr, sk: st.sk, str: s}, true
			}
		}
		return st, false

	case stModuleStrLParenStr:
		if isSym(")") {
			m := ensureModule(module)
			switch st.sk {
			case strDescription:
				m.Description = st.str
			case strAuthor:
				m.Authors = append(m.Authors, st.str)
			case strLicense:
				m.License = st.str
			case strAlias:
				m.Aliases = append(m.Aliases, st.str)
			}
		}
		return st, false

	case stModuleParDesc:
		if isSym("(") {
			return scanState{kind: stModuleParDescLParen}, true
		}
		return st, false

	case stModuleParDescLParen:
		if lex.Token == clex.Identifier {
			return scanState{kind: stModuleParDescLParenName, name: lex.Slice}, true
		}
		return st, false

	case stModuleParDescLParenName:
		if isSym(",") {
			return scanState{kind: stModuleParDescLParenNameComma, name: st.name}, true
		}
		return st, false

	case stModuleParDescLParenNameComma:
		if lex.Token == clex.String {
			if s, ok := lex.String(); ok {
				return scanState{kind: stModuleParDescLParenNameCommaStr, name: st.name, str: s}, true
			}
		}
		return st, false

	case stModuleParDescLParenNameCommaStr:
		if isSym(")") {
			m := ensureModule(module)
			p := m.paramFor(st.name)
			p.Description = st.str
		}
		return st, false

	case stModulePar:
		if isSym("(") {
			return scanState{kind: stModuleParLParen, usafe: st.usafe, named: st.named}, true
		}
		return st, false

	case stModuleParLParen:
		if lex.Token == clex.Identifier {
			return scanState{kind: stModuleParLParenName, usafe: st.usafe, named: st.named, name: lex.Slice}, true
		}
		return st, false

	case stModuleParLParenName:
		if isSym(",") {
			return scanState{kind: stModuleParLParenNameComma, usafe: st.usafe, named: st.named, name: st.name}, true
		}
		return st, false

	case stModuleParLParenNameComma:
		if lex.Token == clex.Identifier {
			if st.named {
				return scanState{kind: stModuleParLParenNameCommaVar, usafe: st.usafe, named: st.named, name: st.name}, true
			}
			return scanState{kind: stModuleParLParenNameCommaType, usafe: st.usafe, named: st.named, name: st.name, typ: lex.Slice}, true
		}
		return st, false

	case stModuleParLParenNameCommaVar:
		if isSym(",") {
			return scanState{kind: stModuleParLParenNameCommaVarComma, usafe: st.usafe, named: st.named, name: st.name}, true
		}
		return st, false

	case stModuleParLParenNameCommaVarComma:
		if lex.Token == clex.Identifier {
			return scanState{kind: stModuleParLParenNameCommaType, usafe: st.usafe, named: st.named, name: st.name, typ: lex.Slice}, true
		}
		return st, false

	case stModuleParLParenNameCommaType:
		if isSym(",") {
			return scanState{kind: stModuleParLParenNameCommaTypeComma, usafe: st.usafe, named: st.named, name: st.name, typ: st.typ}, true
		}
		if lex.Token == clex.Identifier {
			return scanState{kind: stModuleParLParenNameCommaType, usafe: st.usafe, named: st.named, name: st.name, typ: st.typ + " " + lex.Slice}, true
		}
		return st, false

	case stModuleParLParenNameCommaTypeComma:
		if lex.Token == clex.Identifier {
			return scanState{kind: stModuleParLParenNameCommaTypeCommaPerm, usafe: st.usafe, named: st.named, name: st.name, typ: st.typ, perm: ModeFromID(lex.Slice)}, true
		}
		if lex.Token == clex.Int {
			if v, ok := lex.Int(); ok {
				return scanState{kind: stModuleParLParenNameCommaTypeCommaPerm, usafe: st.usafe, named: st.named, name: st.name, typ: st.typ, perm: uint16(v)}, true
			}
		}
		return st, false

	case stModuleParLParenNameCommaTypeCommaPerm:
		if isSym("|") {
			return scanState{kind: stModuleParLParenNameCommaTypeCommaPerm, usafe: st.usafe, named: st.named, name: st.name, typ: st.typ, perm: st.perm}, true
		}
		if isSym(")") {
			m := ensureModule(module)
			p := m.paramFor(st.name)
			p.Type = st.typ
			p.Perm = st.perm
			return st, false
		}
		if lex.Token == clex.Identifier {
			return scanState{kind: stModuleParLParenNameCommaTypeCommaPerm, usafe: st.usafe, named: st.named, name: st.name, typ: st.typ, perm: st.perm | ModeFromID(lex.Slice)}, true
		}
		if lex.Token == clex.Int {
			if v, ok := lex.Int(); ok {
				return scanState{kind: stModuleParLParenNameCommaTypeCommaPerm, usafe: st.usafe, named: st.named, name: st.name, typ: st.typ, perm: st.perm | uint16(v)}, true
			}
		}
		return st, false
	}

	return st, false
}

func ensureModule(module **Module) *Module {
	if *module == nil {
		*module = newModule()
	}
	return *module
}

func (m *Module) paramFor(name string) *Param {
	p, ok := m.Params[name]
	if !ok {
		p = &Param{Name: name}
		m.Params[name] = p
	}
	return p
}

// ModeFromID maps a POSIX S_I* mode-bit identifier to its numeric
// value, or 0 if id isn't one.
func ModeFromID(id string) uint16 {
	sfx, ok := strings.CutPrefix(id, "S_I")
	if !ok {
		return 0
	}
	switch sfx {
	case "FMT":
		return 0170000
	case "FSOCK":
		return 0140000
	case "FLNK":
		return 0120000
	case "FREG":
		return 0100000
	case "FBLK":
		return 0060000
	case "FDIR":
		return 0040000
	case "FCHR":
		return 0020000
	case "FIFO":
		return 0010000
	case "SUID":
		return 0004000
	case "SGID":
		return 0002000
	case "SVTX":
		return 0001000
	case "RWXU":
		return 00700
	case "RUSR":
		return 00400
	case "WUSR":
		return 00200
	case "XUSR":
		return 00100
	case "RWXG":
		return 00070
	case "RGRP":
		return 00040
	case "WGRP":
		return 00020
	case "XGRP":
		return 00010
	case "RWXO":
		return 00007
	case "ROTH":
		return 00004
	case "WOTH":
		return 00002
	case "XOTH":
		return 00001
	case "RWXUGO":
		return 00777
	case "ALLUGO":
		return 0007777
	case "RUGO":
		return 00444
	case "WUGO":
		return 00222
	case "XUGO":
		return 00111
	}
	return 0
}
