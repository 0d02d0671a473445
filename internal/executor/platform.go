package executor

import (
	"encoding/json"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

type composerManifest struct {
	Require struct {
		PHP string `json:"php"`
	} `json:"require"`
	Config struct {
		Platform struct {
			PHP string `json:"php"`
		} `json:"platform"`
	} `json:"config"`
}

// WarnOnPlatformMismatch checks the project's composer.json PHP
// requirement against the interpreter version and logs a warning when
// they disagree. Unreadable manifests and unparsable constraints are
// ignored; this is advisory only.
func WarnOnPlatformMismatch(logger zerolog.Logger, composerPath, phpVersion string) {
	if composerPath == "" || phpVersion == "" {
		return
	}
	raw, err := os.ReadFile(composerPath)
	if err != nil {
		return
	}
	var manifest composerManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return
	}

	constraint := manifest.Config.Platform.PHP
	if constraint == "" {
		constraint = manifest.Require.PHP
	}
	if constraint == "" {
		return
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return
	}
	v, err := semver.NewVersion(phpVersion)
	if err != nil {
		return
	}
	if !c.Check(v) {
		logger.Warn().
			Str("required", constraint).
			Str("interpreter", phpVersion).
			Msg("php version does not satisfy composer.json requirement")
	}
}
