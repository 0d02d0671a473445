package resolver

import (
	"errors"
	"strings"

	"phpx/internal/version"
)

// ParseTarget splits an invocation target of the form
// "tool[@constraint]" into its tool name and version constraint.
func ParseTarget(target string) (string, version.Constraint, error) {
	name, raw, found := strings.Cut(target, "@")
	if name == "" {
		return "", version.Constraint{}, errors.New("empty tool name")
	}
	if found && raw == "" {
		return "", version.Constraint{}, errors.New("empty version after @")
	}
	c, err := version.Parse(raw)
	if err != nil {
		return "", version.Constraint{}, err
	}
	return name, c, nil
}
