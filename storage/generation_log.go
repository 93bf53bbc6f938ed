package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// promptPreviewLen is the number of prompt characters kept in history entries.
const promptPreviewLen = 100

// GenerationRecord is one logged generation or modification.
type GenerationRecord struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	DiagramID    string        `json:"diagram_id,omitempty"`
	Prompt       string        `json:"prompt"`
	DiagramType  string        `json:"diagram_type"`
	Model        string        `json:"model"`
	Code         string        `json:"generated_code"`
	Valid        bool          `json:"is_valid"`
	Kind         string        `json:"kind,omitempty"`
	Error        string        `json:"error_message,omitempty"`
	Elapsed      time.Duration `json:"generation_time_ns"`
	Attempts     int           `json:"attempts"`
	Modification bool          `json:"modification"`
	CreatedAt    time.Time     `json:"created_at"`
}

// HistoryEntry is the listing form of a GenerationRecord: the prompt is
// truncated and the code is reduced to its length.
type HistoryEntry struct {
	ID             string    `json:"id"`
	DiagramID      string    `json:"diagram_id,omitempty"`
	Prompt         string    `json:"prompt"`
	DiagramType    string    `json:"diagram_type"`
	Model          string    `json:"model"`
	Valid          bool      `json:"is_valid"`
	Error          string    `json:"error_message,omitempty"`
	GenerationTime float64   `json:"generation_time"`
	CodeLength     int       `json:"code_length"`
	Modification   bool      `json:"modification"`
	CreatedAt      time.Time `json:"created_at"`
}

// ModelStats summarizes one user's generations with one model.
type ModelStats struct {
	Model                 string   `json:"model"`
	TotalGenerations      int      `json:"total_generations"`
	SuccessfulGenerations int      `json:"successful_generations"`
	SuccessRate           float64  `json:"success_rate"`
	AvgGenerationTime     float64  `json:"avg_generation_time"`
	AvgCodeLength         float64  `json:"avg_code_length"`
	DiagramTypesUsed      []string `json:"diagram_types_used"`
}

// ModelComparison summarizes one model across all users.
type ModelComparison struct {
	Model                 string  `json:"model"`
	UniqueUsers           int     `json:"unique_users"`
	TotalGenerations      int     `json:"total_generations"`
	SuccessfulGenerations int     `json:"successful_generations"`
	SuccessRate           float64 `json:"success_rate"`
	AvgGenerationTime     float64 `json:"avg_generation_time"`
	DiagramTypesSupported int     `json:"diagram_types_supported"`
}

// GenerationLog stores generation records in a NATS KV bucket.
// Keys are "<user>.<created unix nanos>.<id>" so per-user listing sorts by time.
type GenerationLog struct {
	kv jetstream.KeyValue
}

// NewGenerationLog creates a GenerationLog, creating its bucket if needed.
func NewGenerationLog(ctx context.Context, js jetstream.JetStream) (*GenerationLog, error) {
	kv, err := GetOrCreateBucket(ctx, js, BucketGenerations)
	if err != nil {
		return nil, fmt.Errorf("create generations bucket: %w", err)
	}
	return &GenerationLog{kv: kv}, nil
}

// Record appends a generation record, assigning its id and timestamp if unset.
func (l *GenerationLog) Record(ctx context.Context, rec GenerationRecord) error {
	prepareRecord(&rec)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal generation record: %w", err)
	}
	if _, err := l.kv.Create(ctx, recordKey(rec), data); err != nil {
		return fmt.Errorf("store generation record: %w", err)
	}
	return nil
}

// History returns the user's most recent generations, newest first.
func (l *GenerationLog) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	keys, err := listKeys(ctx, l.kv)
	if err != nil {
		return nil, fmt.Errorf("list generation keys: %w", err)
	}

	prefix := UserKey(userID) + "."
	owned := keys[:0]
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			owned = append(owned, key)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(owned)))
	if limit > 0 && len(owned) > limit {
		owned = owned[:limit]
	}

	entries := make([]HistoryEntry, 0, len(owned))
	for _, key := range owned {
		rec, err := l.get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		entries = append(entries, historyEntry(rec))
	}
	return entries, nil
}

// StatsByModel aggregates the user's generations since the given time, per model.
func (l *GenerationLog) StatsByModel(ctx context.Context, userID string, since time.Time) ([]ModelStats, error) {
	recs, err := l.scan(ctx, UserKey(userID)+".")
	if err != nil {
		return nil, err
	}
	return statsByModel(recs, userID, since), nil
}

// CompareModels aggregates every user's generations per model.
func (l *GenerationLog) CompareModels(ctx context.Context) ([]ModelComparison, error) {
	recs, err := l.scan(ctx, "")
	if err != nil {
		return nil, err
	}
	return compareModels(recs), nil
}

func (l *GenerationLog) get(ctx context.Context, key string) (*GenerationRecord, error) {
	entry, err := l.kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get generation record: %w", err)
	}
	var rec GenerationRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal generation record: %w", err)
	}
	return &rec, nil
}

func (l *GenerationLog) scan(ctx context.Context, prefix string) ([]*GenerationRecord, error) {
	keys, err := listKeys(ctx, l.kv)
	if err != nil {
		return nil, fmt.Errorf("list generation keys: %w", err)
	}

	recs := make([]*GenerationRecord, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rec, err := l.get(ctx, key)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func prepareRecord(rec *GenerationRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Model == "" {
		rec.Model = "unknown"
	}
}

func recordKey(rec GenerationRecord) string {
	return fmt.Sprintf("%s.%020d.%s", UserKey(rec.UserID), rec.CreatedAt.UnixNano(), rec.ID)
}

func historyEntry(rec *GenerationRecord) HistoryEntry {
	prompt := rec.Prompt
	if runes := []rune(prompt); len(runes) > promptPreviewLen {
		prompt = string(runes[:promptPreviewLen]) + "..."
	}
	return HistoryEntry{
		ID:             rec.ID,
		DiagramID:      rec.DiagramID,
		Prompt:         prompt,
		DiagramType:    rec.DiagramType,
		Model:          rec.Model,
		Valid:          rec.Valid,
		Error:          rec.Error,
		GenerationTime: round(rec.Elapsed.Seconds(), 2),
		CodeLength:     len(rec.Code),
		Modification:   rec.Modification,
		CreatedAt:      rec.CreatedAt,
	}
}

type modelAccumulator struct {
	total      int
	successful int
	elapsed    time.Duration
	codeLength int
	types      map[string]struct{}
	users      map[string]struct{}
}

func accumulate(recs []*GenerationRecord, keep func(*GenerationRecord) bool) (map[string]*modelAccumulator, []string) {
	acc := make(map[string]*modelAccumulator)
	var order []string
	for _, rec := range recs {
		if !keep(rec) {
			continue
		}
		a, ok := acc[rec.Model]
		if !ok {
			a = &modelAccumulator{types: map[string]struct{}{}, users: map[string]struct{}{}}
			acc[rec.Model] = a
			order = append(order, rec.Model)
		}
		a.total++
		if rec.Valid {
			a.successful++
		}
		a.elapsed += rec.Elapsed
		a.codeLength += len(rec.Code)
		a.types[rec.DiagramType] = struct{}{}
		a.users[rec.UserID] = struct{}{}
	}
	return acc, order
}

func statsByModel(recs []*GenerationRecord, userID string, since time.Time) []ModelStats {
	acc, order := accumulate(recs, func(rec *GenerationRecord) bool {
		return rec.UserID == userID && !rec.CreatedAt.Before(since)
	})

	stats := make([]ModelStats, 0, len(order))
	for _, name := range order {
		a := acc[name]
		stats = append(stats, ModelStats{
			Model:                 name,
			TotalGenerations:      a.total,
			SuccessfulGenerations: a.successful,
			SuccessRate:           round(float64(a.successful)/float64(a.total)*100, 2),
			AvgGenerationTime:     round(a.elapsed.Seconds()/float64(a.total), 2),
			AvgCodeLength:         math.Round(float64(a.codeLength) / float64(a.total)),
			DiagramTypesUsed:      sortedKeys(a.types),
		})
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].TotalGenerations > stats[j].TotalGenerations
	})
	return stats
}

func compareModels(recs []*GenerationRecord) []ModelComparison {
	acc, order := accumulate(recs, func(*GenerationRecord) bool { return true })

	out := make([]ModelComparison, 0, len(order))
	for _, name := range order {
		a := acc[name]
		out = append(out, ModelComparison{
			Model:                 name,
			UniqueUsers:           len(a.users),
			TotalGenerations:      a.total,
			SuccessfulGenerations: a.successful,
			SuccessRate:           round(float64(a.successful)/float64(a.total)*100, 2),
			AvgGenerationTime:     round(a.elapsed.Seconds()/float64(a.total), 2),
			DiagramTypesSupported: len(a.types),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SuccessRate > out[j].SuccessRate
	})
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
