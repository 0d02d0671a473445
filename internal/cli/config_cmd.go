package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	jsonOut := false
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnv()
			if err != nil {
				return err
			}
			cfg := env.Config
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"cache_dir":        cfg.CacheDir,
					"cache_ttl":        int64(cfg.CacheTTL / time.Second),
					"max_cache_size":   cfg.MaxCacheSize,
					"skip_verify":      cfg.SkipVerify,
					"default_php_path": cfg.DefaultPHPPath,
					"download_mirrors": cfg.Mirrors,
				})
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "cache_dir\t%s\n", cfg.CacheDir)
			fmt.Fprintf(w, "cache_ttl\t%s\n", cfg.CacheTTL)
			fmt.Fprintf(w, "max_cache_size\t%s\n", humanize.Bytes(uint64(cfg.MaxCacheSize)))
			fmt.Fprintf(w, "skip_verify\t%t\n", cfg.SkipVerify)
			fmt.Fprintf(w, "default_php_path\t%s\n", cfg.DefaultPHPPath)
			for _, m := range cfg.Mirrors {
				fmt.Fprintf(w, "download_mirror\t%s\n", m)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output machine-readable JSON")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnv()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), env.Paths.ConfigFile)
			return nil
		},
	}
}
