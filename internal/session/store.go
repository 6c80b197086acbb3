// internal/session/store.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	stderrors "tpr-pipeline/internal/common/errors"
	"tpr-pipeline/internal/common/database"
	"tpr-pipeline/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "tpr:session:"
	datasetKeyPrefix = "tpr:dataset:"
	lockKeyPrefix    = "tpr:lock:session:"

	// lockTTL bounds how long a crashed request can hold a session.
	lockTTL = 60 * time.Second
)

// Store persists ConversationSession records and their parsed datasets in
// Redis. Session state must survive process restarts: a resumed session
// reconstructs identical stage and selections, so everything round-trips
// through JSON without loss.
type Store struct {
	client *database.RedisClient
	ttl    time.Duration
}

func NewStore(client *database.RedisClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

// Save writes the session record, refreshing its TTL.
func (s *Store) Save(ctx context.Context, sess *models.ConversationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return stderrors.NewSessionStoreError(err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+sess.ID, data, s.ttl); err != nil {
		return stderrors.NewSessionStoreError(err)
	}
	return nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, id string) (*models.ConversationSession, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id)
	if errors.Is(err, redis.Nil) {
		return nil, stderrors.NewSessionNotFoundError(id)
	}
	if err != nil {
		return nil, stderrors.NewSessionStoreError(err)
	}
	var sess models.ConversationSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, stderrors.NewSessionStoreError(err)
	}
	return &sess, nil
}

// Delete removes the session and its dataset.
func (s *Store) Delete(ctx context.Context, sess *models.ConversationSession) error {
	keys := []string{sessionKeyPrefix + sess.ID}
	if sess.DatasetRef != "" {
		keys = append(keys, datasetKeyPrefix+sess.DatasetRef)
	}
	if err := s.client.Del(ctx, keys...); err != nil {
		return stderrors.NewSessionStoreError(err)
	}
	return nil
}

// SaveDataset stores the parsed dataset under a fresh reference.
func (s *Store) SaveDataset(ctx context.Context, records []models.RawTestingRecord) (string, error) {
	ref := uuid.NewString()
	data, err := json.Marshal(records)
	if err != nil {
		return "", stderrors.NewSessionStoreError(err)
	}
	if err := s.client.Set(ctx, datasetKeyPrefix+ref, data, s.ttl); err != nil {
		return "", stderrors.NewSessionStoreError(err)
	}
	return ref, nil
}

// GetDataset loads a parsed dataset by reference.
func (s *Store) GetDataset(ctx context.Context, ref string) ([]models.RawTestingRecord, error) {
	data, err := s.client.Get(ctx, datasetKeyPrefix+ref)
	if errors.Is(err, redis.Nil) {
		return nil, stderrors.NewDatasetNotFoundError(ref)
	}
	if err != nil {
		return nil, stderrors.NewSessionStoreError(err)
	}
	var records []models.RawTestingRecord
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, stderrors.NewSessionStoreError(err)
	}
	return records, nil
}

// AcquireLock claims exclusive ownership of a session for the duration of one
// message. Returns SESSION_BUSY when another message is in flight.
func (s *Store) AcquireLock(ctx context.Context, id string) (string, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKeyPrefix+id, token, lockTTL)
	if err != nil {
		return "", stderrors.NewSessionStoreError(err)
	}
	if !ok {
		return "", stderrors.NewSessionBusyError(id)
	}
	return token, nil
}

// ReleaseLock releases the session lock if still held by token.
func (s *Store) ReleaseLock(ctx context.Context, id, token string) {
	key := lockKeyPrefix + id
	current, err := s.client.Get(ctx, key)
	if err != nil || current != token {
		return
	}
	_ = s.client.Del(ctx, key)
}
