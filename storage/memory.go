package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDiagramStore is an in-process DiagramStore.
type MemoryDiagramStore struct {
	mu       sync.RWMutex
	diagrams map[string]Diagram
}

// NewMemoryDiagramStore creates an empty in-memory diagram store.
func NewMemoryDiagramStore() *MemoryDiagramStore {
	return &MemoryDiagramStore{diagrams: make(map[string]Diagram)}
}

// Save creates or updates a diagram. A diagram without an id gets a new one.
func (s *MemoryDiagramStore) Save(_ context.Context, d *Diagram) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = uuid.New().String()
		d.CreatedAt = now
	} else if existing, ok := s.diagrams[d.ID]; ok {
		if existing.UserID != d.UserID {
			return ErrNotFound
		}
		d.CreatedAt = existing.CreatedAt
	} else {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	s.diagrams[d.ID] = *d
	return nil
}

// Find returns the diagram with the given id when it belongs to userID.
func (s *MemoryDiagramStore) Find(_ context.Context, userID, diagramID string) (*Diagram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.diagrams[diagramID]
	if !ok || d.UserID != userID {
		return nil, ErrNotFound
	}
	return &d, nil
}

// List returns the user's diagrams, most recently updated first.
func (s *MemoryDiagramStore) List(_ context.Context, userID string) ([]*Diagram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Diagram
	for _, d := range s.diagrams {
		if d.UserID == userID {
			d := d
			out = append(out, &d)
		}
	}
	sortDiagrams(out)
	return out, nil
}

// Delete removes the user's diagram.
func (s *MemoryDiagramStore) Delete(_ context.Context, userID, diagramID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.diagrams[diagramID]
	if !ok || d.UserID != userID {
		return ErrNotFound
	}
	delete(s.diagrams, diagramID)
	return nil
}

// MemoryGenerationLog is an in-process GenerationLog.
type MemoryGenerationLog struct {
	mu      sync.RWMutex
	records []*GenerationRecord
}

// NewMemoryGenerationLog creates an empty in-memory generation log.
func NewMemoryGenerationLog() *MemoryGenerationLog {
	return &MemoryGenerationLog{}
}

// Record appends a generation record, assigning its id and timestamp if unset.
func (l *MemoryGenerationLog) Record(_ context.Context, rec GenerationRecord) error {
	prepareRecord(&rec)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, &rec)
	return nil
}

// History returns the user's most recent generations, newest first.
func (l *MemoryGenerationLog) History(_ context.Context, userID string, limit int) ([]HistoryEntry, error) {
	l.mu.RLock()
	var owned []*GenerationRecord
	for _, rec := range l.records {
		if rec.UserID == userID {
			owned = append(owned, rec)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	if limit > 0 && len(owned) > limit {
		owned = owned[:limit]
	}

	entries := make([]HistoryEntry, 0, len(owned))
	for _, rec := range owned {
		entries = append(entries, historyEntry(rec))
	}
	return entries, nil
}

// StatsByModel aggregates the user's generations since the given time, per model.
func (l *MemoryGenerationLog) StatsByModel(_ context.Context, userID string, since time.Time) ([]ModelStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return statsByModel(l.records, userID, since), nil
}

// CompareModels aggregates every user's generations per model.
func (l *MemoryGenerationLog) CompareModels(_ context.Context) ([]ModelComparison, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return compareModels(l.records), nil
}
