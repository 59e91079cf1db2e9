package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/kquery/kquery/internal/kqerr"
	"github.com/kquery/kquery/internal/metadata"
)

var jsonFlag bool

func init() {
	for _, cmd := range []*cobra.Command{sourcesCmd, compatsCmd, configsCmd, compatCmd, configCmd, sourceCmd} {
		cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit machine-readable JSON instead of plain text")
	}
}

// loadStore discovers and reads the most recently written index file
// under the --data directory. It reports to stderr and returns a nil
// store, nil error when no index file exists yet — callers then return
// without printing anything further.
func loadStore() (*metadata.Store, error) {
	path, ok, err := metadata.FindFile(dataFlag)
	if err != nil {
		return nil, err
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "Index does not exist!")
		fmt.Fprintln(os.Stderr, "Please run `kquery index` first...")
		return nil, nil
	}

	opts, err := metadata.OptionsFromFileName(path)
	if err != nil {
		return nil, err
	}
	return metadata.ReadFile(path, opts)
}

var sourcesCmd = &cobra.Command{
	Use:   "sources [glob]",
	Short: "List indexed source paths",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStore()
		if err != nil || store == nil {
			return err
		}
		names := make([]string, 0, len(store.Sources))
		for path := range store.Sources {
			names = append(names, path)
		}
		return printNames(names, argOrEmpty(args))
	},
}

var compatsCmd = &cobra.Command{
	Use:   "compats [glob]",
	Short: "List known compatible strings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStore()
		if err != nil || store == nil {
			return err
		}
		names := make([]string, 0, len(store.CompatStrs))
		for compat := range store.CompatStrs {
			names = append(names, compat)
		}
		return printNames(names, argOrEmpty(args))
	},
}

var configsCmd = &cobra.Command{
	Use:   "configs [glob]",
	Short: "List known configuration options",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStore()
		if err != nil || store == nil {
			return err
		}
		names := make([]string, 0, len(store.ConfigOpts))
		for opt := range store.ConfigOpts {
			names = append(names, opt)
		}
		return printNames(names, argOrEmpty(args))
	},
}

var compatCmd = &cobra.Command{
	Use:   "compat <compat-string>",
	Short: "Print the source associated with a compatible string",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStore()
		if err != nil || store == nil {
			return err
		}
		entry, ok := store.CompatStrs[args[0]]
		if !ok {
			fmt.Fprintf(os.Stderr, "Compatible string %q not found!\n", args[0])
			return nil
		}
		return printSource(store, entry.Source, "")
	},
}

var configCmd = &cobra.Command{
	Use:   "config <CONFIG_OPTION>",
	Short: "Print every source that mentions a configuration option",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStore()
		if err != nil || store == nil {
			return err
		}
		entry, ok := store.ConfigOpts[args[0]]
		if !ok {
			fmt.Fprintf(os.Stderr, "Configuration option %q not found!\n", args[0])
			return nil
		}
		if len(entry.Sources) == 0 {
			fmt.Fprintf(os.Stderr, "No sources related to configuration option %q found!\n", args[0])
			return nil
		}

		paths := make([]string, 0, len(entry.Sources))
		for path := range entry.Sources {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		if jsonFlag {
			type sourceOut struct {
				Path       string   `json:"path"`
				ConfigOpts []string `json:"config_opts"`
				CompatStrs []string `json:"compat_strs"`
			}
			out := make([]sourceOut, 0, len(paths))
			for _, path := range paths {
				cfgs, compats, _ := store.Sorted(path)
				out = append(out, sourceOut{Path: path, ConfigOpts: cfgs, CompatStrs: compats})
			}
			return printJSON(out)
		}

		fmt.Println("Sources:")
		for _, path := range paths {
			fmt.Printf("    %s\n", path)
			printSourceDetail(store, path, "        ")
		}
		return nil
	},
}

var sourceCmd = &cobra.Command{
	Use:   "source <path/to/source.c>",
	Short: "Print a source's options and compats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadStore()
		if err != nil || store == nil {
			return err
		}
		if _, ok := store.Sources[args[0]]; !ok {
			fmt.Fprintf(os.Stderr, "Source file %q not found!\n", args[0])
			return nil
		}
		return printSource(store, args[0], "    ")
	},
}

func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// printNames prints names (sorted) to stdout, optionally filtered by a
// glob pattern, as JSON or one-per-line plain text.
func printNames(names []string, pattern string) error {
	if pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			return kqerr.Wrap(kqerr.Config, pattern, "invalid glob pattern", err)
		}
		filtered := names[:0]
		for _, name := range names {
			if g.Match(name) {
				filtered = append(filtered, name)
			}
		}
		names = filtered
	}
	sort.Strings(names)

	if jsonFlag {
		return printJSON(names)
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

// printSource prints a single source's header, options, and compats,
// indenting the detail lines by indent.
func printSource(store *metadata.Store, path, indent string) error {
	if jsonFlag {
		cfgs, compats, _ := store.Sorted(path)
		return printJSON(struct {
			Path       string   `json:"path"`
			ConfigOpts []string `json:"config_opts"`
			CompatStrs []string `json:"compat_strs"`
		}{path, cfgs, compats})
	}
	fmt.Printf("Source: %s\n", path)
	printSourceDetail(store, path, indent)
	return nil
}

// printSourceDetail prints path's config_opts/compat_strs lines
// indented by indent, matching the reference CLI's nested listing
// under `config`/`compat`/`source`.
func printSourceDetail(store *metadata.Store, path, indent string) {
	cfgs, compats, ok := store.Sorted(path)
	if !ok {
		return
	}
	if len(cfgs) > 0 {
		fmt.Printf("%sConfiguration options:\n", indent)
		for _, opt := range cfgs {
			fmt.Printf("%s    %s\n", indent, opt)
		}
	}
	if len(compats) > 0 {
		fmt.Printf("%sCompatible strings:\n", indent)
		for _, compat := range compats {
			fmt.Printf("%s    %s\n", indent, compat)
		}
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return kqerr.Wrap(kqerr.Parse, "", "encode json output", err)
	}
	fmt.Println(string(data))
	return nil
}
