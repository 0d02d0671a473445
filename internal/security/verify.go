// Package security validates artifact integrity before anything is cached
// or executed. Checksums are sha256; the recorded hex digest doubles as the
// cache's content hash, so a trust-on-first-use record still catches a
// tampered re-download of the same version later.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// IntegrityError reports a checksum or signature mismatch. It is always
// fatal: the staged file is never cached and never executed.
type IntegrityError struct {
	Path     string
	Expected string
	Computed string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, computed %s",
		e.Path, e.Expected, e.Computed)
}

// Hash computes the sha256 hex digest of the file at path.
func Hash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for checksum: %w", err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify computes the file's hash and compares it byte-for-byte against
// expectedHex. It returns the computed hash either way so callers can
// record it.
func Verify(path, expectedHex string) (string, error) {
	computed, err := Hash(path)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(computed, expectedHex) {
		return computed, &IntegrityError{Path: path, Expected: strings.ToLower(expectedHex), Computed: computed}
	}
	return computed, nil
}

// ErrNotPerformed reports that a verification strategy declined to run.
// Callers relying on its guarantees must treat this as "not verified",
// never as success.
var ErrNotPerformed = errors.New("verification not performed")

// SignatureVerifier is the pluggable second strategy alongside checksums.
type SignatureVerifier interface {
	// VerifySignature checks the detached signature at signaturePath
	// against the artifact. Implementations that cannot verify must
	// return ErrNotPerformed rather than claiming success.
	VerifySignature(artifactPath, signaturePath string) error
}

// GPGVerifier is the placeholder signature strategy. Until a real GPG
// integration lands it reports ErrNotPerformed on every call.
type GPGVerifier struct{}

func (GPGVerifier) VerifySignature(artifactPath, signaturePath string) error {
	return fmt.Errorf("gpg signature check for %s: %w", artifactPath, ErrNotPerformed)
}
