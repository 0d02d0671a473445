package source

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Hint maps a short tool name onto the places its artifacts live. The
// built-in table covers the well-known phar-distributed tools; users can
// extend or override it through tools.yaml in the phpx config directory.
type Hint struct {
	// Package is the Packagist package name (vendor/name).
	Package string `yaml:"package"`
	// Repo is the GitHub owner/name carrying release assets.
	Repo string `yaml:"repo"`
	// Asset is the phar asset file name; "{version}" expands to the
	// resolved version.
	Asset string `yaml:"asset"`
	// TagPrefix is prepended to the version to form the release tag
	// (php-cs-fixer tags v3.64.0, phpstan tags 1.11.0).
	TagPrefix string `yaml:"tag_prefix"`
}

// Hints indexes hint entries by tool name.
type Hints map[string]Hint

// AssetName expands the asset template for a concrete version.
func (h Hint) AssetName(version string) string {
	return strings.ReplaceAll(h.Asset, "{version}", version)
}

// Tag returns the release tag for a concrete version.
func (h Hint) Tag(version string) string {
	return h.TagPrefix + version
}

func builtinHints() Hints {
	return Hints{
		"phpstan": {
			Package: "phpstan/phpstan",
			Repo:    "phpstan/phpstan",
			Asset:   "phpstan.phar",
		},
		"php-cs-fixer": {
			Package:   "friendsofphp/php-cs-fixer",
			Repo:      "PHP-CS-Fixer/PHP-CS-Fixer",
			Asset:     "php-cs-fixer.phar",
			TagPrefix: "v",
		},
		"psalm": {
			Package: "vimeo/psalm",
			Repo:    "vimeo/psalm",
			Asset:   "psalm.phar",
		},
		"phpunit": {
			Package: "phpunit/phpunit",
			Repo:    "sebastianbergmann/phpunit",
			Asset:   "phpunit-{version}.phar",
		},
		"composer": {
			Package: "composer/composer",
			Repo:    "composer/composer",
			Asset:   "composer.phar",
		},
		"phpcs": {
			Package: "squizlabs/php_codesniffer",
			Repo:    "PHPCSStandards/PHP_CodeSniffer",
			Asset:   "phpcs.phar",
		},
		"phpcbf": {
			Package: "squizlabs/php_codesniffer",
			Repo:    "PHPCSStandards/PHP_CodeSniffer",
			Asset:   "phpcbf.phar",
		},
	}
}

// LoadHints returns the built-in table overlaid with the user's tools.yaml
// when it exists. User entries win on conflicting tool names.
func LoadHints(path string) (Hints, error) {
	hints := builtinHints()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return hints, nil
		}
		return nil, fmt.Errorf("read tool hints: %w", err)
	}

	var user Hints
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parse tool hints %s: %w", path, err)
	}
	for name, hint := range user {
		hints[name] = hint
	}
	return hints, nil
}

// packageFor returns the Packagist package for a tool name, falling back
// to the vendor/name convention when no hint exists.
func (h Hints) packageFor(tool string) string {
	if hint, ok := h[tool]; ok && hint.Package != "" {
		return hint.Package
	}
	if strings.Contains(tool, "/") {
		return tool
	}
	return tool + "/" + tool
}

// repoCandidatesFor lists GitHub repositories that may carry the tool's
// releases, most likely first. Without a hint, the conventional guesses
// mirror the common owner/name layouts for PHP tooling.
func (h Hints) repoCandidatesFor(tool string) []string {
	if hint, ok := h[tool]; ok && hint.Repo != "" {
		return []string{hint.Repo}
	}
	if strings.Contains(tool, "/") {
		return []string{tool}
	}
	return []string{
		tool + "/" + tool,
		tool + "/php-" + tool,
		"php-" + tool + "/" + tool,
	}
}
