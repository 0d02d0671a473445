package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"phpx/internal/paths"
)

// Config is the read-only configuration snapshot taken at startup. The
// pipeline treats it as an input and never mutates it.
type Config struct {
	CacheDir       string
	CacheTTL       time.Duration
	MaxCacheSize   int64
	SkipVerify     bool
	DefaultPHPPath string
	Mirrors        []string
}

// fileConfig is the on-disk TOML shape. Paths stay strings so the file can
// use "~"; durations are plain seconds. The format is shared with other
// phpx installations, so field names are part of the compatibility surface.
type fileConfig struct {
	CacheDir       string   `toml:"cache_dir"`
	CacheTTL       int64    `toml:"cache_ttl"`
	MaxCacheSize   int64    `toml:"max_cache_size"`
	SkipVerify     bool     `toml:"skip_verify"`
	DefaultPHPPath string   `toml:"default_php_path"`
	Mirrors        []string `toml:"download_mirrors"`
}

// Default returns the baseline configuration rooted at the provided
// application paths.
func Default(p paths.AppPaths) Config {
	return Config{
		CacheDir:     p.CacheDir,
		CacheTTL:     7 * 24 * time.Hour,
		MaxCacheSize: 1 << 30, // 1 GiB
	}
}

// Load reads the TOML configuration if it exists, otherwise returns the
// defaults. Unset fields fall back to their defaults individually.
func Load(p paths.AppPaths) (Config, error) {
	cfg := Default(p)

	data, err := os.ReadFile(p.ConfigFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var file fileConfig
	if err := toml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", p.ConfigFile, err)
	}

	if file.CacheDir != "" {
		cfg.CacheDir = paths.ExpandTilde(file.CacheDir)
	}
	if file.CacheTTL > 0 {
		cfg.CacheTTL = time.Duration(file.CacheTTL) * time.Second
	}
	if file.MaxCacheSize > 0 {
		cfg.MaxCacheSize = file.MaxCacheSize
	}
	cfg.SkipVerify = file.SkipVerify
	if file.DefaultPHPPath != "" {
		cfg.DefaultPHPPath = paths.ExpandTilde(file.DefaultPHPPath)
	}
	if len(file.Mirrors) > 0 {
		cfg.Mirrors = append([]string(nil), file.Mirrors...)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", p.ConfigFile, err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot operate with.
func Validate(cfg Config) error {
	if cfg.CacheDir == "" {
		return errors.New("cache_dir must not be empty")
	}
	if cfg.MaxCacheSize <= 0 {
		return fmt.Errorf("max_cache_size must be positive, got %d", cfg.MaxCacheSize)
	}
	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %s", cfg.CacheTTL)
	}
	return nil
}
