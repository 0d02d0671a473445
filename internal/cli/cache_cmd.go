package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"phpx/internal/cache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached tool artifacts",
	}

	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output machine-readable JSON")

	cmd.AddCommand(newCacheListCmd())
	cmd.AddCommand(newCacheInfoCmd())
	cmd.AddCommand(newCacheCleanCmd())
	return cmd
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached tools and versions",
		Args:  cobra.NoArgs,
		RunE:  runCacheList,
	}
}

func newCacheInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <tool>",
		Short: "Show cached versions of a tool",
		Args:  cobra.ExactArgs(1),
		RunE:  runCacheInfo,
	}
}

func newCacheCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [tool]",
		Short: "Remove cached artifacts, all of them or one tool's",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCacheClean,
	}
}

func runCacheList(cmd *cobra.Command, _ []string) error {
	env, err := newEnv()
	if err != nil {
		return err
	}
	entries, err := env.Store.List()
	if err != nil {
		return err
	}
	return printEntries(cmd, entries)
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	env, err := newEnv()
	if err != nil {
		return err
	}
	entries, err := env.Store.Info(args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%s is not cached", args[0])
	}
	return printEntries(cmd, entries)
}

func runCacheClean(cmd *cobra.Command, args []string) error {
	env, err := newEnv()
	if err != nil {
		return err
	}
	tool := ""
	if len(args) == 1 {
		tool = args[0]
	}
	removed, err := env.Store.Clean(cmd.Context(), tool)
	if err != nil {
		return err
	}
	if outputJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]int{"removed": removed})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached artifact(s)\n", removed)
	return nil
}

func printEntries(cmd *cobra.Command, entries []cache.Entry) error {
	if outputJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(entries)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tVERSION\tSIZE\tFETCHED\tLAST USED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ToolName,
			e.Version,
			humanize.Bytes(uint64(e.SizeBytes)),
			humanize.Time(e.FetchedAt),
			humanize.Time(e.LastUsedAt),
		)
	}
	return w.Flush()
}
