package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"studentforge-backend/internal/models"
)

const (
	sessionTTL         = 12 * time.Hour
	finishedSessionTTL = 10 * time.Minute
	sessionLockTTL     = 30 * time.Second
)

var (
	ErrSessionNotFound = errors.New("reading session not found")
	ErrSessionBusy     = errors.New("reading session is processing another page turn")
)

// SessionStore keeps live reading sessions. Retire keeps a finished session
// around for finishedSessionTTL. Lock serializes page turns of one session;
// the returned func releases it.
type SessionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.ReadingSession, error)
	Save(ctx context.Context, s *models.ReadingSession) error
	Retire(ctx context.Context, s *models.ReadingSession) error
	Delete(ctx context.Context, id uuid.UUID) error
	Lock(ctx context.Context, id uuid.UUID) (func(), error)
}

// releaseLock deletes the lock only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSessionStore stores sessions as JSON values with a sliding TTL.
type RedisSessionStore struct {
	redis redis.Cmdable
	// lockWait bounds how long Lock retries before giving up.
	lockWait time.Duration
	lockPoll time.Duration
}

func NewRedisSessionStore(client redis.Cmdable) *RedisSessionStore {
	return &RedisSessionStore{redis: client, lockWait: 5 * time.Second, lockPoll: 50 * time.Millisecond}
}

func sessionKey(id uuid.UUID) string     { return "reading_session:" + id.String() }
func sessionLockKey(id uuid.UUID) string { return "reading_session_lock:" + id.String() }

func (s *RedisSessionStore) Get(ctx context.Context, id uuid.UUID) (*models.ReadingSession, error) {
	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess models.ReadingSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, sess *models.ReadingSession) error {
	return s.set(ctx, sess, sessionTTL)
}

func (s *RedisSessionStore) Retire(ctx context.Context, sess *models.ReadingSession) error {
	return s.set(ctx, sess, finishedSessionTTL)
}

func (s *RedisSessionStore) set(ctx context.Context, sess *models.ReadingSession, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sessionKey(sess.ID), data, ttl).Err()
}

func (s *RedisSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.redis.Del(ctx, sessionKey(id)).Err()
}

func (s *RedisSessionStore) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	key := sessionLockKey(id)
	token := uuid.NewString()
	deadline := time.Now().Add(s.lockWait)

	for {
		ok, err := s.redis.SetNX(ctx, key, token, sessionLockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrSessionBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.lockPoll):
		}
	}

	return func() {
		if err := releaseLock.Run(context.Background(), s.redis, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("session_id", id.String()).Msg("release session lock")
		}
	}, nil
}

// MemorySessionStore is a process-local SessionStore.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID][]byte
	locks    map[uuid.UUID]*sync.Mutex
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[uuid.UUID][]byte),
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *MemorySessionStore) Get(_ context.Context, id uuid.UUID) (*models.ReadingSession, error) {
	m.mu.Lock()
	data, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	var sess models.ReadingSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (m *MemorySessionStore) Save(_ context.Context, sess *models.ReadingSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[sess.ID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionStore) Retire(ctx context.Context, sess *models.ReadingSession) error {
	return m.Save(ctx, sess)
}

func (m *MemorySessionStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.locks, id)
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionStore) Lock(_ context.Context, id uuid.UUID) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock, nil
}
