package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/fuua/internal/common"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// AdminHandler lets operators inspect stuck tickets and push dead-lettered
// ones back onto their queue.
type AdminHandler struct {
	Store             Store
	Queue             Enqueuer
	PageSize          int
	VisibilityTimeout time.Duration
	// DefaultKind applies when a request names no kind.
	DefaultKind string
}

// Routes mounts the admin endpoints.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/dlq", h.ListDLQ)
	r.Post("/dlq/replay", h.ReplayDLQ)
	r.Get("/stats", h.Stats)
}

type dlqItem struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Attempts       int             `json:"attempts"`
	LastError      *string         `json:"lastError,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	Payload        json.RawMessage `json:"payload"`
}

type dlqPage struct {
	Data  []dlqItem `json:"data"`
	Total int64     `json:"total"`
	Kind  string    `json:"kind,omitempty"`
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit"`
}

type replayResult struct {
	Replayed []uuid.UUID      `json:"replayed"`
	Failed   map[string]string `json:"failed,omitempty"`
}

type queueStats struct {
	Kind              string  `json:"kind"`
	Ready             int64   `json:"ready"`
	Processing        int64   `json:"processing"`
	DLQ               int64   `json:"dlq"`
	OldestLagMillis   int64   `json:"oldest_lag_ms"`
	VisibilitySeconds float64 `json:"visibility_timeout"`
}

// ListDLQ pages through dead-lettered tasks, newest first.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		unavailable(w)
		return
	}
	ctx := r.Context()
	kind := h.kindFrom(r.URL.Query().Get("kind"))
	limit, offset := parsePagination(r, h.pageSize())

	entries, err := h.Store.ListQueueDlq(ctx, kind, limit, offset)
	if err != nil {
		internalError(w, err)
		return
	}
	total, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		internalError(w, err)
		return
	}

	page := dlqPage{Data: make([]dlqItem, 0, len(entries)), Total: total, Kind: kind}
	for _, entry := range entries {
		msg, err := decodeMessage(string(entry.Payload))
		if err != nil {
			continue
		}
		page.Data = append(page.Data, dlqItem{
			ID:             entry.ID,
			Kind:           entry.Kind,
			IdempotencyKey: entry.IdempotencyKey,
			Attempts:       entry.Attempts,
			LastError:      entry.LastError,
			CreatedAt:      entry.CreatedAt,
			Payload:        json.RawMessage(validJSON(msg.Payload)),
		})
	}
	common.JSON(w, http.StatusOK, page)
}

// ReplayDLQ re-enqueues entries named by id, or the newest entries of a kind.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		unavailable(w)
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	ids := uniqueStrings(req.IDs)
	kind := sanitizeKind(strings.TrimSpace(req.Kind))
	if len(ids) == 0 && kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or kind required", nil)
		return
	}

	ctx := r.Context()
	res := replayResult{Replayed: []uuid.UUID{}, Failed: map[string]string{}}
	var entries []DLQEntry
	if len(ids) > 0 {
		entries = h.collectByID(ctx, ids, res.Failed)
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = h.pageSize()
		}
		var err error
		if entries, err = h.Store.ListQueueDlq(ctx, kind, limit, 0); err != nil {
			internalError(w, err)
			return
		}
	}
	for _, entry := range entries {
		if err := h.requeueEntry(ctx, entry); err != nil {
			res.Failed[entry.ID.String()] = err.Error()
			continue
		}
		res.Replayed = append(res.Replayed, entry.ID)
	}
	common.JSON(w, http.StatusOK, res)
}

// Stats reports ready, in-flight and dead-lettered counts for one kind.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue.R == nil || h.Store == nil {
		unavailable(w)
		return
	}
	kind := h.kindFrom(r.URL.Query().Get("kind"))
	if kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return
	}
	ctx := r.Context()
	k := keys(h.Queue.Prefix)
	stats := queueStats{Kind: kind, VisibilitySeconds: h.visibility().Seconds()}

	var err error
	if stats.Ready, err = zcard(ctx, h.Queue.R, k.queue(kind)); err != nil {
		internalError(w, err)
		return
	}
	if stats.Processing, err = zcard(ctx, h.Queue.R, k.processing(kind)); err != nil {
		internalError(w, err)
		return
	}
	if stats.DLQ, err = h.Store.CountQueueDlq(ctx, kind); err != nil {
		internalError(w, err)
		return
	}
	stats.OldestLagMillis = oldestLag(ctx, h.Queue.R, k.queue(kind))

	observeDepth(ctx, h.Queue.R, h.Queue.Prefix, kind)
	observeDLQ(ctx, h.Store, kind)
	common.JSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) collectByID(ctx context.Context, ids []string, failed map[string]string) []DLQEntry {
	entries := make([]DLQEntry, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			failed[raw] = "invalid uuid"
			continue
		}
		entry, err := h.Store.GetQueueDlq(ctx, id)
		if err != nil {
			failed[raw] = err.Error()
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func (h *AdminHandler) requeueEntry(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	// a replayed task gets a fresh attempt budget
	if err := h.Queue.Enqueue(ctx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
	}); err != nil {
		return err
	}
	if err := h.Store.DeleteQueueDlq(ctx, entry.ID); err != nil {
		return err
	}
	observeDLQ(ctx, h.Store, msg.Kind)
	return nil
}

func (h *AdminHandler) kindFrom(raw string) string {
	if kind := sanitizeKind(strings.TrimSpace(raw)); kind != "" {
		return kind
	}
	return sanitizeKind(h.DefaultKind)
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return defaultPageSize
	}
	return h.PageSize
}

func (h *AdminHandler) visibility() time.Duration {
	if h.VisibilityTimeout <= 0 {
		return 30 * time.Second
	}
	return h.VisibilityTimeout
}

func zcard(ctx context.Context, r *redis.Client, key string) (int64, error) {
	n, err := r.ZCard(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return n, nil
}

// oldestLag is how long the oldest due task has been waiting, in milliseconds.
func oldestLag(ctx context.Context, r *redis.Client, key string) int64 {
	oldest, err := r.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return 0
	}
	due := time.Unix(0, int64(oldest[0].Score))
	if !due.Before(time.Now()) {
		return 0
	}
	return time.Since(due).Milliseconds()
}

func unavailable(w http.ResponseWriter) {
	common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue dependencies unavailable", nil)
}

func internalError(w http.ResponseWriter, err error) {
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
}

func parsePagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if limit <= 0 {
		limit = defaultPageSize
	}
	q := r.URL.Query()
	if parsed, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil && parsed > 0 && parsed <= maxPageSize {
		limit = parsed
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(q.Get("offset"))); err == nil && parsed >= 0 {
		offset = parsed
	}
	return limit, offset
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if _, dup := seen[v]; v == "" || dup {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

func validJSON(b []byte) []byte {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
