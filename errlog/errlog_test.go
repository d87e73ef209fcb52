package errlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-relay-backend/models"
)

func TestAppendCreatesFile(t *testing.T) {
	l := NewFileLog(filepath.Join(t.TempDir(), "error_header.json"))

	require.NoError(t, l.Append(models.ErrorLogEntry{Message: "first", Origin: "https://a"}))
	require.NoError(t, l.Append(models.ErrorLogEntry{Message: "second", Referer: "https://b/"}))

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
}

func TestAppendReplacesNonArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error_header.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"a list"}`), 0644))

	l := NewFileLog(path)
	require.NoError(t, l.Append(models.ErrorLogEntry{Message: "fresh"}))

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", entries[0].Message)
}

func TestEntriesMissingFile(t *testing.T) {
	l := NewFileLog(filepath.Join(t.TempDir(), "none.json"))
	entries, err := l.Entries()
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentAppend(t *testing.T) {
	l := NewFileLog(filepath.Join(t.TempDir(), "error_header.json"))

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.Append(models.ErrorLogEntry{Message: fmt.Sprintf("m%d", i)}))
		}(i)
	}
	wg.Wait()

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, n)
}
