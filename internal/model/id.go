package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

var runIDRegex = regexp.MustCompile(`^run_[0-9]{10}_[0-9a-f]{8}$`)

// NewRunID generates a run identifier of the form run_<unix>_<hex8>.
// The timestamp prefix keeps checkpoint files sortable by start time.
func NewRunID() (string, error) {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return fmt.Sprintf("run_%010d_%s", time.Now().Unix(), hex.EncodeToString(randomBytes)), nil
}

// ValidRunID reports whether id matches the run identifier format.
func ValidRunID(id string) bool {
	return runIDRegex.MatchString(id)
}
