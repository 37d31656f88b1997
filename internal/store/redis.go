package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mossy-p/connect-now/config"
	"github.com/mossy-p/connect-now/internal/models"
)

const (
	metadataTTL = 24 * time.Hour
	// resyncInterval bounds how stale a watcher can get if a publish is
	// dropped while the subscriber reconnects.
	resyncInterval = 5 * time.Second
)

// RedisStore implements RoomStore and MetadataStore on go-redis. Room fields
// live in hashes so every write stays field-scoped: concurrent peers never
// clobber each other's slots. Change notification rides pub/sub; candidate
// inboxes are lists; chat is a stream whose ids double as server-assigned
// timestamps.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, log *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client, log: log}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func keyParticipants(roomID string) string { return "room:" + roomID + ":participants" }
func keyOffers(roomID string) string       { return "room:" + roomID + ":offers" }
func keyAnswers(roomID string) string      { return "room:" + roomID + ":answers" }
func keyCandidates(roomID, pid string) string {
	return "room:" + roomID + ":cand:" + pid
}
func keyChat(roomID string) string    { return "room:" + roomID + ":chat" }
func keyMeta(roomID string) string    { return "room:" + roomID + ":meta" }
func keyCode(code string) string      { return "code:" + code }
func channelFor(roomID string) string { return "roomch:" + roomID }

func (s *RedisStore) publish(ctx context.Context, roomID string) {
	if err := s.client.Publish(ctx, channelFor(roomID), "1").Err(); err != nil {
		s.log.Warn("publish room change failed", zap.String("room", roomID), zap.Error(err))
	}
}

func (s *RedisStore) SetParticipant(ctx context.Context, roomID, participantID, name string) error {
	if err := s.client.HSet(ctx, keyParticipants(roomID), participantID, name).Err(); err != nil {
		return fmt.Errorf("set participant: %w", err)
	}
	s.publish(ctx, roomID)
	return nil
}

func (s *RedisStore) PutOffer(ctx context.Context, roomID string, desc models.Description) error {
	return s.putDescription(ctx, roomID, keyOffers(roomID), desc)
}

func (s *RedisStore) PutAnswer(ctx context.Context, roomID string, desc models.Description) error {
	return s.putDescription(ctx, roomID, keyAnswers(roomID), desc)
}

func (s *RedisStore) putDescription(ctx context.Context, roomID, key string, desc models.Description) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal description: %w", err)
	}
	if err := s.client.HSet(ctx, key, desc.From, data).Err(); err != nil {
		return fmt.Errorf("put description: %w", err)
	}
	s.publish(ctx, roomID)
	return nil
}

func (s *RedisStore) DeleteOffer(ctx context.Context, roomID, from string) error {
	if err := s.client.HDel(ctx, keyOffers(roomID), from).Err(); err != nil {
		return fmt.Errorf("delete offer: %w", err)
	}
	s.publish(ctx, roomID)
	return nil
}

func (s *RedisStore) DeleteAnswer(ctx context.Context, roomID, from string) error {
	if err := s.client.HDel(ctx, keyAnswers(roomID), from).Err(); err != nil {
		return fmt.Errorf("delete answer: %w", err)
	}
	s.publish(ctx, roomID)
	return nil
}

func (s *RedisStore) ConsumeOffer(ctx context.Context, roomID, offerFrom string, answer models.Description) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, keyAnswers(roomID), answer.From, data)
	pipe.HDel(ctx, keyOffers(roomID), offerFrom)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("consume offer: %w", err)
	}
	s.publish(ctx, roomID)
	return nil
}

func (s *RedisStore) ClearParticipant(ctx context.Context, roomID, participantID string) error {
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, keyParticipants(roomID), participantID)
	pipe.HDel(ctx, keyOffers(roomID), participantID)
	pipe.HDel(ctx, keyAnswers(roomID), participantID)
	pipe.Del(ctx, keyCandidates(roomID, participantID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear participant: %w", err)
	}
	s.publish(ctx, roomID)
	return nil
}

func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	pids, err := s.client.HKeys(ctx, keyParticipants(roomID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("list participants: %w", err)
	}
	keys := []string{
		keyParticipants(roomID),
		keyOffers(roomID),
		keyAnswers(roomID),
		keyChat(roomID),
	}
	for _, pid := range pids {
		keys = append(keys, keyCandidates(roomID, pid))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	s.publish(ctx, roomID)
	return nil
}

func (s *RedisStore) Participants(ctx context.Context, roomID string) (map[string]string, error) {
	parts, err := s.client.HGetAll(ctx, keyParticipants(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read participants: %w", err)
	}
	return parts, nil
}

func (s *RedisStore) snapshot(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	snap := models.RoomSnapshot{
		Participants: make(map[string]string),
		Offers:       make(map[string]models.Description),
		Answers:      make(map[string]models.Description),
	}
	pipe := s.client.Pipeline()
	partsCmd := pipe.HGetAll(ctx, keyParticipants(roomID))
	offersCmd := pipe.HGetAll(ctx, keyOffers(roomID))
	answersCmd := pipe.HGetAll(ctx, keyAnswers(roomID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return snap, fmt.Errorf("read room: %w", err)
	}
	snap.Participants = partsCmd.Val()
	if snap.Participants == nil {
		snap.Participants = make(map[string]string)
	}
	for from, raw := range offersCmd.Val() {
		var d models.Description
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			s.log.Warn("skipping malformed offer", zap.String("from", from), zap.Error(err))
			continue
		}
		snap.Offers[from] = d
	}
	for from, raw := range answersCmd.Val() {
		var d models.Description
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			s.log.Warn("skipping malformed answer", zap.String("from", from), zap.Error(err))
			continue
		}
		snap.Answers[from] = d
	}
	return snap, nil
}

// changes emits a tick whenever the room channel publishes, plus a periodic
// resync tick. The subscription is re-established with exponential backoff if
// it drops.
func (s *RedisStore) changes(ctx context.Context, roomID string) <-chan struct{} {
	ticks := make(chan struct{}, 1)
	go func() {
		defer close(ticks)
		resync := time.NewTicker(resyncInterval)
		defer resync.Stop()
		for {
			// Each attempt gets a fresh subscription: once Receive fails the
			// old PubSub is dead and retrying on it cannot recover.
			var sub *redis.PubSub
			subscribe := func() error {
				sub = s.client.Subscribe(ctx, channelFor(roomID))
				if _, err := sub.Receive(ctx); err != nil {
					sub.Close()
					return err
				}
				return nil
			}
			if err := backoff.Retry(subscribe, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
				return
			}
			ch := sub.Channel()
		recv:
			for {
				select {
				case _, ok := <-ch:
					if !ok {
						break recv
					}
				case <-resync.C:
				case <-ctx.Done():
					sub.Close()
					return
				}
				select {
				case ticks <- struct{}{}:
				default:
				}
			}
			sub.Close()
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("room subscription dropped, resubscribing", zap.String("room", roomID))
		}
	}()
	return ticks
}

func (s *RedisStore) Watch(ctx context.Context, roomID string) (<-chan models.RoomSnapshot, error) {
	ticks := s.changes(ctx, roomID)
	out := make(chan models.RoomSnapshot, 1)
	go func() {
		defer close(out)
		for {
			snap, err := s.snapshot(ctx, roomID)
			if err != nil {
				s.log.Warn("room snapshot read failed", zap.String("room", roomID), zap.Error(err))
			} else {
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
			select {
			case _, ok := <-ticks:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) AddCandidate(ctx context.Context, roomID string, cand models.Candidate) error {
	data, err := json.Marshal(cand)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}
	if err := s.client.RPush(ctx, keyCandidates(roomID, cand.To), data).Err(); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	s.publish(ctx, roomID)
	return nil
}

func (s *RedisStore) WatchCandidates(ctx context.Context, roomID, participantID string) (<-chan models.Candidate, error) {
	ticks := s.changes(ctx, roomID)
	out := make(chan models.Candidate)
	key := keyCandidates(roomID, participantID)
	go func() {
		defer close(out)
		cursor := int64(0)
		for {
			entries, err := s.client.LRange(ctx, key, cursor, -1).Result()
			if err != nil && err != redis.Nil {
				s.log.Warn("candidate inbox read failed", zap.String("room", roomID), zap.Error(err))
				entries = nil
			}
			for _, raw := range entries {
				cursor++
				var c models.Candidate
				if err := json.Unmarshal([]byte(raw), &c); err != nil {
					s.log.Warn("skipping malformed candidate", zap.Error(err))
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
			select {
			case _, ok := <-ticks:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, roomID string, msg models.ChatMessage) (models.ChatMessage, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: keyChat(roomID),
		Values: map[string]interface{}{
			"from": msg.From,
			"name": msg.Name,
			"text": msg.Text,
		},
	}).Result()
	if err != nil {
		return msg, fmt.Errorf("append message: %w", err)
	}
	msg.ID = id
	msg.Timestamp = streamIDTime(id)
	s.publish(ctx, roomID)
	return msg, nil
}

func (s *RedisStore) WatchMessages(ctx context.Context, roomID string) (<-chan models.ChatMessage, error) {
	ticks := s.changes(ctx, roomID)
	out := make(chan models.ChatMessage)
	go func() {
		defer close(out)
		lastID := "-"
		for {
			start := lastID
			if lastID != "-" {
				start = "(" + lastID
			}
			entries, err := s.client.XRange(ctx, keyChat(roomID), start, "+").Result()
			if err != nil && err != redis.Nil {
				s.log.Warn("chat read failed", zap.String("room", roomID), zap.Error(err))
				entries = nil
			}
			for _, e := range entries {
				lastID = e.ID
				msg := models.ChatMessage{
					ID:        e.ID,
					Timestamp: streamIDTime(e.ID),
				}
				if v, ok := e.Values["from"].(string); ok {
					msg.From = v
				}
				if v, ok := e.Values["name"].(string); ok {
					msg.Name = v
				}
				if v, ok := e.Values["text"].(string); ok {
					msg.Text = v
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
			select {
			case _, ok := <-ticks:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// streamIDTime extracts the server-assigned millisecond timestamp from a
// stream entry id of the form "<ms>-<seq>".
func streamIDTime(id string) time.Time {
	msPart, _, _ := strings.Cut(id, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *RedisStore) PutMetadata(ctx context.Context, meta models.RoomMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyMeta(meta.ID), data, metadataTTL)
	pipe.Set(ctx, keyCode(meta.Code), meta.ID, metadataTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store metadata: %w", err)
	}
	return nil
}

func (s *RedisStore) GetMetadata(ctx context.Context, identifier string) (models.RoomMetadata, error) {
	roomID := identifier
	if mapped, err := s.client.Get(ctx, keyCode(identifier)).Result(); err == nil {
		roomID = mapped
	}
	data, err := s.client.Get(ctx, keyMeta(roomID)).Result()
	if err == redis.Nil {
		return models.RoomMetadata{}, ErrRoomNotFound
	}
	if err != nil {
		return models.RoomMetadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta models.RoomMetadata
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return models.RoomMetadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	count, err := s.client.HLen(ctx, keyParticipants(roomID)).Result()
	if err == nil {
		meta.ParticipantCount = int(count)
	}
	return meta, nil
}

func (s *RedisStore) DeleteMetadata(ctx context.Context, meta models.RoomMetadata) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keyMeta(meta.ID))
	pipe.Del(ctx, keyCode(meta.Code))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	return nil
}
