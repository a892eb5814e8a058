package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"studentforge-backend/internal/models"
)

// Publisher pushes a message to every live connection of a user.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user_updates:%s", userID.String())
}

// RedisPublisher fans messages out through Redis pub/sub to the websocket hub.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("marshal ws message")
		return
	}
	if err := p.redis.Publish(ctx, UserChannel(userID), data).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Str("type", msg.Type).Msg("publish failed")
	}
}

// MemoryPublisher records messages per user.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages map[uuid.UUID][]models.WSMessage
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{messages: make(map[uuid.UUID][]models.WSMessage)}
}

func (p *MemoryPublisher) Publish(_ context.Context, userID uuid.UUID, msg models.WSMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[userID] = append(p.messages[userID], msg)
}

func (p *MemoryPublisher) Messages(userID uuid.UUID) []models.WSMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.WSMessage, len(p.messages[userID]))
	copy(out, p.messages[userID])
	return out
}
