package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Diagram is a saved diagram owned by one user.
type Diagram struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"diagram_type"`
	Code        string    `json:"code"`
	Prompt      string    `json:"original_prompt,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DiagramStore stores diagrams in a NATS KV bucket keyed by diagram id.
type DiagramStore struct {
	kv jetstream.KeyValue
}

// NewDiagramStore creates a DiagramStore, creating its bucket if needed.
func NewDiagramStore(ctx context.Context, js jetstream.JetStream) (*DiagramStore, error) {
	kv, err := GetOrCreateBucket(ctx, js, BucketDiagrams)
	if err != nil {
		return nil, fmt.Errorf("create diagrams bucket: %w", err)
	}
	return &DiagramStore{kv: kv}, nil
}

// Save creates or updates a diagram. A diagram without an id gets a new one.
// Updating a diagram owned by another user returns ErrNotFound.
func (s *DiagramStore) Save(ctx context.Context, d *Diagram) error {
	now := time.Now().UTC()

	if d.ID == "" {
		d.ID = uuid.New().String()
		d.CreatedAt = now
		d.UpdatedAt = now
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal diagram: %w", err)
		}
		if _, err := s.kv.Create(ctx, d.ID, data); err != nil {
			return fmt.Errorf("store diagram: %w", err)
		}
		return nil
	}

	existing, err := s.Find(ctx, d.UserID, d.ID)
	switch {
	case err == nil:
		d.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		if _, getErr := s.kv.Get(ctx, d.ID); getErr == nil {
			return ErrNotFound
		}
		d.CreatedAt = now
	default:
		return err
	}
	d.UpdatedAt = now

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal diagram: %w", err)
	}
	if _, err := s.kv.Put(ctx, d.ID, data); err != nil {
		return fmt.Errorf("store diagram: %w", err)
	}
	return nil
}

// Find returns the diagram with the given id when it belongs to userID.
func (s *DiagramStore) Find(ctx context.Context, userID, diagramID string) (*Diagram, error) {
	if diagramID == "" {
		return nil, ErrNotFound
	}

	entry, err := s.kv.Get(ctx, diagramID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get diagram: %w", err)
	}

	var d Diagram
	if err := json.Unmarshal(entry.Value(), &d); err != nil {
		return nil, fmt.Errorf("unmarshal diagram: %w", err)
	}
	if d.UserID != userID {
		return nil, ErrNotFound
	}
	return &d, nil
}

// List returns the user's diagrams, most recently updated first.
func (s *DiagramStore) List(ctx context.Context, userID string) ([]*Diagram, error) {
	keys, err := listKeys(ctx, s.kv)
	if err != nil {
		return nil, fmt.Errorf("list diagram keys: %w", err)
	}

	diagrams := make([]*Diagram, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var d Diagram
		if err := json.Unmarshal(entry.Value(), &d); err != nil {
			continue
		}
		if d.UserID == userID {
			diagrams = append(diagrams, &d)
		}
	}

	sortDiagrams(diagrams)
	return diagrams, nil
}

// Delete removes the user's diagram.
func (s *DiagramStore) Delete(ctx context.Context, userID, diagramID string) error {
	if _, err := s.Find(ctx, userID, diagramID); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, diagramID); err != nil {
		return fmt.Errorf("delete diagram: %w", err)
	}
	return nil
}

func sortDiagrams(diagrams []*Diagram) {
	sort.SliceStable(diagrams, func(i, j int) bool {
		return diagrams[i].UpdatedAt.After(diagrams[j].UpdatedAt)
	})
}
