package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

const tokenBytes = 32

// MonitorToken authenticates /ws monitor clients. A fresh value is
// generated per startup and written to a file only the current user can read.
type MonitorToken struct {
	value string
	path  string
}

// NewMonitorToken generates a random token and writes it to path with
// mode 0600. An empty path keeps the token in memory only.
func NewMonitorToken(path string) (*MonitorToken, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto/rand: %w", err)
	}
	t := &MonitorToken{value: hex.EncodeToString(b), path: path}

	if path != "" {
		if err := os.WriteFile(path, []byte(t.value), 0600); err != nil {
			return nil, fmt.Errorf("write monitor token file: %w", err)
		}
		logrus.WithField("path", path).Infoln("monitor token written")
	}
	return t, nil
}

// Value returns the generated token.
func (t *MonitorToken) Value() string {
	return t.value
}

// Validate performs a constant-time comparison against the token.
func (t *MonitorToken) Validate(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(t.value), []byte(candidate)) == 1
}

// Cleanup removes the token file. Call via defer in main.
func (t *MonitorToken) Cleanup() {
	if t.path == "" {
		return
	}
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warnln("failed to remove monitor token file")
	}
}
