package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable indicates the DLQ store dependency is not configured.
	ErrStoreUnavailable = errors.New("queue: store unavailable")
	// ErrDLQEntryNotFound is returned for unknown DLQ ids.
	ErrDLQEntryNotFound = errors.New("queue: dlq entry not found")
)

// Store keeps tasks that exhausted their attempts.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
	QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error)
}

// DLQEntry is a dead-lettered task. Payload holds the encoded queue message.
type DLQEntry struct {
	ID             uuid.UUID `json:"id"`
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idem_key,omitempty"`
	Payload        []byte    `json:"payload"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RedisStore keeps DLQ entries next to the queue they came from: one JSON
// value per entry plus a per-kind sorted set ordered by creation time.
type RedisStore struct {
	r *redis.Client
	k keys
}

// NewRedisStore constructs a Store sharing the queue's key prefix.
func NewRedisStore(r *redis.Client, prefix string) *RedisStore {
	return &RedisStore{r: r, k: keys(prefix)}
}

// InsertQueueDlq persists a DLQ entry and returns its identifier.
func (s *RedisStore) InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error) {
	if s == nil || s.r == nil {
		return uuid.Nil, ErrStoreUnavailable
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return uuid.Nil, err
	}
	id := entry.ID.String()
	_, err = s.r.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.k.dlqEntry(id), raw, 0)
		p.ZAdd(ctx, s.k.dlqIndex(entry.Kind), redis.Z{Score: float64(entry.CreatedAt.UnixNano()), Member: id})
		p.SAdd(ctx, s.k.dlqKinds(), entry.Kind)
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue: insert dlq: %w", err)
	}
	return entry.ID, nil
}

// DeleteQueueDlq removes a DLQ entry by ID.
func (s *RedisStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	entry, err := s.GetQueueDlq(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.r.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.k.dlqEntry(id.String()))
		p.ZRem(ctx, s.k.dlqIndex(entry.Kind), id.String())
		return nil
	})
	return err
}

// GetQueueDlq fetches a DLQ entry by ID.
func (s *RedisStore) GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	if s == nil || s.r == nil {
		return DLQEntry{}, ErrStoreUnavailable
	}
	raw, err := s.r.Get(ctx, s.k.dlqEntry(id.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return DLQEntry{}, ErrDLQEntryNotFound
	}
	if err != nil {
		return DLQEntry{}, err
	}
	var entry DLQEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return DLQEntry{}, fmt.Errorf("queue: decode dlq entry: %w", err)
	}
	return entry, nil
}

// ListQueueDlq returns the newest entries first. An empty kind lists every kind.
func (s *RedisStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	if s == nil || s.r == nil {
		return nil, ErrStoreUnavailable
	}
	limit = clampPositive(limit, 1, 500)
	if offset < 0 {
		offset = 0
	}
	kinds, err := s.kinds(ctx, kind)
	if err != nil {
		return nil, err
	}
	var zs []redis.Z
	for _, k := range kinds {
		part, err := s.r.ZRangeWithScores(ctx, s.k.dlqIndex(k), 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		zs = append(zs, part...)
	}
	sortNewestFirst(zs)
	if offset >= len(zs) {
		return []DLQEntry{}, nil
	}
	zs = zs[offset:min(offset+limit, len(zs))]

	entries := make([]DLQEntry, 0, len(zs))
	for _, z := range zs {
		id, err := uuid.Parse(fmt.Sprint(z.Member))
		if err != nil {
			continue
		}
		entry, err := s.GetQueueDlq(ctx, id)
		if errors.Is(err, ErrDLQEntryNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// CountQueueDlq counts DLQ items optionally filtered by kind.
func (s *RedisStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	if s == nil || s.r == nil {
		return 0, ErrStoreUnavailable
	}
	kinds, err := s.kinds(ctx, kind)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range kinds {
		n, err := s.r.ZCard(ctx, s.k.dlqIndex(k)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// QueueDlqSizeByKind returns DLQ sizes per kind.
func (s *RedisStore) QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error) {
	kinds, err := s.kinds(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(kinds))
	for _, k := range kinds {
		n, err := s.CountQueueDlq(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

func (s *RedisStore) kinds(ctx context.Context, kind string) ([]string, error) {
	if kind = strings.TrimSpace(kind); kind != "" {
		return []string{kind}, nil
	}
	kinds, err := s.r.SMembers(ctx, s.k.dlqKinds()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return kinds, nil
}

func sortNewestFirst(zs []redis.Z) {
	sort.SliceStable(zs, func(i, j int) bool { return zs[i].Score > zs[j].Score })
}

func clampPositive(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
