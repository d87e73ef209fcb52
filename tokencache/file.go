package tokencache

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"speech-relay-backend/models"
	"speech-relay-backend/utils"
)

// FileStore keeps every record in one JSON object on disk, keyed by cache key.
// Writes replace the file atomically and are serialized by a mutex.
type FileStore struct {
	path string
	ttl  time.Duration
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string, ttl time.Duration) *FileStore {
	return &FileStore{path: path, ttl: ttl}
}

func (s *FileStore) Get(key string, now time.Time) (models.TokenRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return models.TokenRecord{}, false, err
	}
	purge(tokens, now, s.ttl)

	rec, ok := tokens[key]
	return rec, ok, nil
}

// Put stores rec and rewrites the file, dropping records expired as of
// rec's timestamp. An unreadable file is replaced.
func (s *FileStore) Put(key string, rec models.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		logrus.WithError(err).WithField("path", s.path).Warnln("token file unreadable, rewriting")
		tokens = make(map[string]models.TokenRecord)
	}
	purge(tokens, time.Unix(rec.Timestamp, 0), s.ttl)
	tokens[key] = rec

	return utils.WriteJSONFile(s.path, tokens, 0600)
}

func (s *FileStore) Expire(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return 0, err
	}
	removed := purge(tokens, now, s.ttl)
	if removed == 0 {
		return 0, nil
	}
	return removed, utils.WriteJSONFile(s.path, tokens, 0600)
}

func (s *FileStore) load() (map[string]models.TokenRecord, error) {
	tokens := make(map[string]models.TokenRecord)
	if _, err := utils.ReadJSONFile(s.path, &tokens); err != nil {
		return nil, err
	}
	if tokens == nil {
		// a file holding JSON null decodes to a nil map
		tokens = make(map[string]models.TokenRecord)
	}
	return tokens, nil
}
