// Package errlog keeps the append-only JSON log of requests rejected by the
// access guard.
package errlog

import (
	"sync"

	"github.com/sirupsen/logrus"

	"speech-relay-backend/models"
	"speech-relay-backend/utils"
)

// FileLog stores entries as a single JSON array on disk.
type FileLog struct {
	path string
	mu   sync.Mutex
}

// NewFileLog returns a log backed by path. The file is created on first Append.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Path returns the backing file.
func (l *FileLog) Path() string {
	return l.path
}

// Append adds entry to the end of the log. A file that does not hold a
// JSON array is replaced by a fresh one.
func (l *FileLog) Append(entry models.ErrorLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		logrus.WithError(err).WithField("path", l.path).Warnln("error log unreadable, starting a new one")
		entries = nil
	}
	entries = append(entries, entry)

	return utils.WriteJSONFile(l.path, entries, 0644)
}

// Entries returns every logged entry, oldest first.
func (l *FileLog) Entries() ([]models.ErrorLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *FileLog) read() ([]models.ErrorLogEntry, error) {
	var entries []models.ErrorLogEntry
	if _, err := utils.ReadJSONFile(l.path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
