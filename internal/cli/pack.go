package cli

import (
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

// NewPackCommand creates the pack command group.
func NewPackCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Read and write cached tour packs",
	}

	cmd.AddCommand(newPackGetCommand(rootOpts))
	cmd.AddCommand(newPackSaveCommand(rootOpts))
	cmd.AddCommand(newPackFreshnessCommand(rootOpts))

	return cmd
}

func packCommand(rootOpts *RootOptions, use, short string, fn func(*runtime, *cobra.Command, string, string) error) *cobra.Command {
	return &cobra.Command{
		Use:           use + " <entity-id> <role>",
		Short:         short,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(commandContext(cmd), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return fn(rt, cmd, args[0], args[1])
		},
	}
}

func newPackGetCommand(rootOpts *RootOptions) *cobra.Command {
	return packCommand(rootOpts, "get", "Print the cached pack",
		func(rt *runtime, cmd *cobra.Command, entityID, role string) error {
			pack, ok, err := rt.cache.Get(commandContext(cmd), entityID, role)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid pack key", err)
			}
			if !ok {
				return NewExitError(ExitFailure, fmt.Sprintf("no cached pack for %s/%s", entityID, role))
			}
			return rt.out.Emit(pack, func(w io.Writer) {
				fmt.Fprintf(w, "Pack %s/%s fetched %s", entityID, role, pack.FetchedAt.Format(time.RFC3339))
				if pack.SourceVersion != "" {
					fmt.Fprintf(w, " (version %s)", pack.SourceVersion)
				}
				fmt.Fprintln(w)
				keys := make([]string, 0, len(pack.Data))
				for k := range pack.Data {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				for _, k := range keys {
					fmt.Fprintf(w, "  %s: %s\n", k, pack.Data[k])
				}
			})
		})
}

func newPackSaveCommand(rootOpts *RootOptions) *cobra.Command {
	var data, file, version string
	cmd := packCommand(rootOpts, "save", "Merge a JSON object into the cached pack",
		func(rt *runtime, cmd *cobra.Command, entityID, role string) error {
			fragment := []byte(data)
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read fragment file", err)
				}
				fragment = raw
			}
			pack, err := rt.cache.SaveJSON(commandContext(cmd), entityID, role, fragment, version)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to save pack", err)
			}
			return rt.out.Emit(pack, func(w io.Writer) {
				fmt.Fprintf(w, "Saved %s/%s (%d field(s))\n", entityID, role, len(pack.Data))
			})
		})
	cmd.Flags().StringVar(&data, "data", "{}", "fragment as a JSON object")
	cmd.Flags().StringVar(&file, "file", "", "read the fragment from a file")
	cmd.Flags().StringVar(&version, "source-version", "", "version of the source data")
	cmd.MarkFlagsMutuallyExclusive("data", "file")
	return cmd
}

func newPackFreshnessCommand(rootOpts *RootOptions) *cobra.Command {
	return packCommand(rootOpts, "freshness", "Classify how current the cached pack is",
		func(rt *runtime, cmd *cobra.Command, entityID, role string) error {
			f, err := rt.cache.Freshness(commandContext(cmd), entityID, role)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid pack key", err)
			}
			return rt.out.Emit(f, func(w io.Writer) {
				fmt.Fprintf(w, "%s (%s)\n", f.Label, f.Bucket)
			})
		})
}
