package cli

import (
	"os"

	"github.com/spf13/cobra"

	"phpx/internal/executor"
	"phpx/internal/paths"
	"phpx/internal/resolver"
)

var (
	refreshFlag    bool
	noCacheFlag    bool
	skipVerifyFlag bool
	noLocalFlag    bool
	phpFlag        string
)

// runTool reserves exit code 125 for every failure before the child tool
// runs, so CI callers can tell "could not resolve" from "tool ran and
// failed".
func runTool(cmd *cobra.Command, args []string) error {
	env, err := newEnv()
	if err != nil {
		return &exitError{code: exitCouldNotResolve, err: err}
	}

	name, constraint, err := resolver.ParseTarget(args[0])
	if err != nil {
		return &exitError{code: exitCouldNotResolve, err: err}
	}
	toolArgs := args[1:]

	svc, err := env.newResolver()
	if err != nil {
		return &exitError{code: exitCouldNotResolve, err: err}
	}
	req := resolver.ToolRequest{
		Name:         name,
		Constraint:   constraint,
		ForceRefresh: refreshFlag,
		SkipCache:    noCacheFlag,
		SkipVerify:   skipVerifyFlag,
		NoLocal:      noLocalFlag,
	}

	ctx := cmd.Context()
	art, err := svc.Resolve(ctx, req)
	if err != nil {
		return &exitError{code: exitCouldNotResolve, err: err}
	}
	env.Logger.Debug().
		Str("tool", name).
		Str("version", art.Version).
		Str("path", art.Path).
		Bool("verified", art.Verified).
		Msg("resolved")

	phpPath := phpFlag
	if phpPath == "" {
		phpPath = env.Config.DefaultPHPPath
	}
	php, err := executor.FindPHP(ctx, phpPath)
	if err != nil {
		return &exitError{code: exitCouldNotResolve, err: err}
	}

	if wd, werr := os.Getwd(); werr == nil {
		if composer, ok := paths.FindComposerJSON(wd); ok {
			if v, verr := executor.PHPVersion(ctx, php); verr == nil {
				executor.WarnOnPlatformMismatch(env.Logger, composer, v)
			}
		}
	}

	runner := &executor.Runner{PHPPath: php, Logger: env.Logger}
	var res executor.Result
	if art.Local {
		// Local vendor binaries are executable scripts, not phars.
		res, err = runner.RunDirect(ctx, name, art.Path, toolArgs)
	} else {
		res, err = runner.Run(ctx, name, art.Path, toolArgs)
	}
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &exitError{code: res.ExitCode}
	}
	return nil
}
