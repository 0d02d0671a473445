package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

var phpCandidates = []string{"php", "php8.3", "php8.2", "php8.1", "php8", "php7"}

// FindPHP locates a usable PHP interpreter. An explicit path (from the
// --php flag or configuration) is validated as-is; otherwise common
// interpreter names are searched on PATH.
func FindPHP(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		if err := checkPHP(ctx, explicit); err != nil {
			return "", fmt.Errorf("php interpreter %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, name := range phpCandidates {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		if err := checkPHP(ctx, path); err != nil {
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("no php interpreter found on PATH (tried %s)", strings.Join(phpCandidates, ", "))
}

func checkPHP(ctx context.Context, path string) error {
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(string(out), "PHP ") {
		return fmt.Errorf("unexpected --version output")
	}
	return nil
}

// PHPVersion reports the interpreter's version string, e.g. "8.3.11".
func PHPVersion(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, path, "-r", "echo PHP_VERSION;").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
