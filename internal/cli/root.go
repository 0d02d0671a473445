// Package cli wires the cobra command tree.
package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"phpx/internal/cache"
	"phpx/internal/config"
	"phpx/internal/download"
	"phpx/internal/logx"
	"phpx/internal/paths"
	"phpx/internal/resolver"
	"phpx/internal/security"
	"phpx/internal/source"
)

// Exit code for requests the resolver could not satisfy, leaving the
// codes below for the tools themselves.
const exitCouldNotResolve = 125

var (
	configFlag string
	verbose    bool
	outputJSON bool
)

// exitError carries a specific process exit code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root cobra command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phpx <tool>[@version] [args...]",
		Short: "Run PHP tools at pinned versions without installing them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTool,
		// Everything after the tool name belongs to the tool.
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().SetInterspersed(false)

	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to configuration file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.Flags().BoolVar(&refreshFlag, "refresh", false, "Re-resolve and re-download even when cached")
	cmd.Flags().BoolVar(&noCacheFlag, "no-cache", false, "Bypass cache reads; downloads are still cached")
	cmd.Flags().BoolVar(&skipVerifyFlag, "skip-verify", false, "Skip integrity verification")
	cmd.Flags().BoolVar(&noLocalFlag, "no-local", false, "Ignore project and global vendor binaries")
	cmd.Flags().StringVar(&phpFlag, "php", "", "Path to the PHP interpreter")

	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// env bundles the pieces every command needs.
type env struct {
	Paths  paths.AppPaths
	Config config.Config
	Store  *cache.Store
	Logger zerolog.Logger
}

func newEnv() (*env, error) {
	pp, err := paths.Resolve(configFlag)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(pp)
	if err != nil {
		return nil, err
	}
	logger := logx.New(verbose)
	store := cache.New(cfg.CacheDir, cfg.MaxCacheSize, cfg.CacheTTL, logger)
	return &env{Paths: pp, Config: cfg, Store: store, Logger: logger}, nil
}

func (e *env) newResolver() (*resolver.Service, error) {
	hints, err := source.LoadHints(e.Paths.HintsFile)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	chain := &source.Chain{
		Backends: []source.Backend{
			&source.Registry{Hints: hints, Client: client},
			&source.ReleaseAssets{Hints: hints, Client: client},
			&source.DirectURL{Hints: hints, Client: client},
		},
		Logger: e.Logger,
	}
	fetcher := download.New(nil, e.Config.Mirrors, e.Logger)
	return &resolver.Service{
		Config:     e.Config,
		Store:      e.Store,
		Sources:    chain,
		Fetcher:    fetcher,
		Signatures: security.GPGVerifier{},
		Logger:     e.Logger,
	}, nil
}
