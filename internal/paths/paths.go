package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AppPaths captures canonical locations for phpx state on this machine.
type AppPaths struct {
	ConfigDir  string
	ConfigFile string
	HintsFile  string
	CacheDir   string
}

// Resolve determines the config and cache locations, honoring an optional
// --config flag for an alternate configuration file.
func Resolve(configFlag string) (AppPaths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return AppPaths{}, fmt.Errorf("resolve home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "phpx")
	p := AppPaths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, "config.toml"),
		HintsFile:  filepath.Join(configDir, "tools.yaml"),
		CacheDir:   filepath.Join(home, ".cache", "phpx"),
	}

	if configFlag != "" {
		abs, err := filepath.Abs(configFlag)
		if err != nil {
			return AppPaths{}, fmt.Errorf("resolve config path: %w", err)
		}
		p.ConfigFile = abs
	}

	return p, nil
}

// ExpandTilde rewrites "~" or "~/path" against the user's home directory.
// Unexpandable values are returned cleaned but otherwise untouched.
func ExpandTilde(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return filepath.Clean(path)
}

// ProjectBinDir returns the project-local tool directory for the working
// directory, walking upward until a vendor/bin directory or the filesystem
// root is reached.
func ProjectBinDir(startDir string) (string, bool) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, "vendor", "bin")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// GlobalBinDirs lists user-scoped directories that may hold globally
// installed tools, in probe order.
func GlobalBinDirs() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".composer", "vendor", "bin"),
		filepath.Join(home, ".config", "composer", "vendor", "bin"),
	}
}

// FindComposerJSON walks upward from startDir looking for a composer.json,
// returning its path when found.
func FindComposerJSON(startDir string) (string, bool) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, "composer.json")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
