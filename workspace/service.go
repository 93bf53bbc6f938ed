package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/mermaidgen/diagram"
	"github.com/c360studio/mermaidgen/generation"
	"github.com/c360studio/mermaidgen/storage"
)

// MaxHistory caps the generation history kept per workspace.
const MaxHistory = 50

var (
	// ErrDiagramNotFound is returned when a workspace is opened on a diagram
	// the user does not own or that does not exist.
	ErrDiagramNotFound = errors.New("diagram not found")

	// ErrInvalidDiagramID is returned when modifying a workspace that has no
	// saved diagram behind it.
	ErrInvalidDiagramID = errors.New("cannot modify diagram: invalid diagram ID")

	// ErrEmptyWorkspace is returned when modifying a workspace without code.
	ErrEmptyWorkspace = errors.New("workspace has no diagram code to modify")

	// ErrGenerationFailed wraps the outcome error of an invalid generation.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrNoDiagramStore is returned by Save when no diagram store is configured.
	ErrNoDiagramStore = errors.New("no diagram store configured")
)

// Generator runs one generation. *generation.Orchestrator implements it.
type Generator interface {
	Generate(ctx context.Context, userID, diagramID string, req generation.Request) (generation.Outcome, error)
}

// DiagramStore loads and saves user diagrams.
type DiagramStore interface {
	Find(ctx context.Context, userID, diagramID string) (*storage.Diagram, error)
	Save(ctx context.Context, d *storage.Diagram) error
}

// Mirror persists workspaces outside the process. *KVStore implements it.
type Mirror interface {
	Load(ctx context.Context, key string) (*Workspace, error)
	Store(ctx context.Context, key string, ws *Workspace) error
	Remove(ctx context.Context, key string) error
}

// Service manages workspaces. Workspaces are read from the cache, then the
// mirror, then created from the diagram store.
type Service struct {
	gen      Generator
	diagrams DiagramStore
	cache    *Cache
	mirror   Mirror
	logger   *slog.Logger
	now      func() time.Time

	// locks serializes read-modify-write cycles per workspace key. Store and
	// mirror I/O for one key never blocks another key.
	locks keyLocks
}

// keyLocks hands out one mutex per workspace key. An entry is dropped once
// no caller holds or waits on it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// lock acquires the mutex for key and returns its release func.
func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*keyLock)
	}
	kl := l.locks[key]
	if kl == nil {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.Lock()
	return func() {
		kl.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMirror persists workspaces to m in addition to the cache.
func WithMirror(m Mirror) Option {
	return func(s *Service) {
		s.mirror = m
	}
}

// NewService creates a Service. A nil cache selects NewCache(0, 0).
// diagrams may be nil, in which case only unsaved workspaces can be used.
func NewService(gen Generator, diagrams DiagramStore, cache *Cache, opts ...Option) *Service {
	if cache == nil {
		cache = NewCache(0, 0)
	}
	s := &Service{
		gen:      gen,
		diagrams: diagrams,
		cache:    cache,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a fresh workspace for userID, loading diagramID from the
// diagram store when set. Any cached workspace under the same key is
// replaced.
func (s *Service) Open(ctx context.Context, userID, diagramID string) (*Workspace, error) {
	id := normalizeID(diagramID)
	defer s.locks.lock(Key(userID, id))()

	ws, err := s.open(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return ws.Clone(), nil
}

// Get returns the user's workspace on diagramID, opening it if needed.
func (s *Service) Get(ctx context.Context, userID, diagramID string) (*Workspace, error) {
	id := normalizeID(diagramID)
	defer s.locks.lock(Key(userID, id))()

	ws, err := s.current(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return ws.Clone(), nil
}

// Update overwrites the patched fields and marks the workspace unsaved.
func (s *Service) Update(ctx context.Context, userID, diagramID string, patch Patch) (*Workspace, error) {
	id := normalizeID(diagramID)
	defer s.locks.lock(Key(userID, id))()

	ws, err := s.current(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	patch.apply(ws)
	ws.HasUnsavedChanges = true
	s.put(ctx, Key(userID, id), ws)

	s.logger.Debug("Workspace updated", "user_id", userID, "diagram_id", id)
	return ws.Clone(), nil
}

// Generate creates a new diagram of type t in the workspace. Every
// generation is added to the history; only a valid one replaces the
// workspace code. An invalid outcome returns the updated workspace along
// with an error wrapping ErrGenerationFailed.
func (s *Service) Generate(ctx context.Context, userID, diagramID, prompt string, t diagram.Type, modelName string) (*Workspace, generation.Outcome, error) {
	id := normalizeID(diagramID)
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, generation.Outcome{}, err
	}
	if !t.IsValid() {
		t = diagram.DefaultType
	}

	out, err := s.gen.Generate(ctx, userID, id, generation.Request{
		DiagramType: t,
		UserText:    prompt,
		Model:       modelName,
		MaxRetries:  -1,
	})
	if err != nil {
		return nil, out, err
	}

	ws, err := s.apply(ctx, userID, id, out, HistoryEntry{
		Prompt:      prompt,
		DiagramType: string(t),
	}, func(ws *Workspace) {
		ws.CurrentPrompt = prompt
		ws.DiagramType = string(t)
	})
	if err != nil {
		return nil, out, err
	}
	if !out.Valid {
		return ws, out, fmt.Errorf("%w: %s", ErrGenerationFailed, out.Error)
	}
	return ws, out, nil
}

// Modify applies a modification to the workspace code. The workspace must
// belong to a saved diagram. The current workspace code, including unsaved
// changes, is what gets modified.
func (s *Service) Modify(ctx context.Context, userID, diagramID, modification, modelName string) (*Workspace, generation.Outcome, error) {
	id := normalizeID(diagramID)
	if id == "" {
		return nil, generation.Outcome{}, ErrInvalidDiagramID
	}

	current, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, generation.Outcome{}, err
	}
	if strings.TrimSpace(current.Code) == "" {
		return nil, generation.Outcome{}, ErrEmptyWorkspace
	}

	t := diagram.ParseType(current.DiagramType)
	out, err := s.gen.Generate(ctx, userID, id, generation.Request{
		DiagramType:  t,
		UserText:     modification,
		ExistingCode: current.Code,
		Model:        modelName,
		Modification: true,
		MaxRetries:   -1,
	})
	if err != nil {
		return nil, out, err
	}

	ws, err := s.apply(ctx, userID, id, out, HistoryEntry{
		Prompt:       ModificationPrefix + modification,
		DiagramType:  string(t),
		Modification: true,
	}, nil)
	if err != nil {
		return nil, out, err
	}
	if !out.Valid {
		return ws, out, fmt.Errorf("%w: %s", ErrGenerationFailed, out.Error)
	}
	return ws, out, nil
}

// Save writes the workspace to the diagram store and marks it saved. An
// unsaved workspace becomes a new diagram and moves to the key of its new
// id, leaving the user's unsaved slot empty.
func (s *Service) Save(ctx context.Context, userID, diagramID, title, description string) (*Workspace, error) {
	if s.diagrams == nil {
		return nil, ErrNoDiagramStore
	}

	id := normalizeID(diagramID)
	defer s.locks.lock(Key(userID, id))()

	ws, err := s.current(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		title = ws.Title
	}

	var d *storage.Diagram
	if ws.DiagramID != "" {
		d, err = s.diagrams.Find(ctx, userID, ws.DiagramID)
		if err != nil {
			return nil, s.findError(err)
		}
		d.Title = title
		if description != "" {
			d.Description = description
		}
		d.Type = ws.DiagramType
		d.Code = ws.Code
	} else {
		d = &storage.Diagram{
			UserID:      userID,
			Title:       title,
			Description: description,
			Type:        ws.DiagramType,
			Code:        ws.Code,
			Prompt:      ws.CurrentPrompt,
		}
	}
	if err := s.diagrams.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("save diagram: %w", err)
	}

	if ws.DiagramID == "" {
		s.remove(ctx, Key(userID, ""))
		ws.DiagramID = d.ID
	}
	ws.Title = title
	ws.HasUnsavedChanges = false
	s.put(ctx, Key(userID, ws.DiagramID), ws)

	s.logger.Info("Workspace saved", "user_id", userID, "diagram_id", ws.DiagramID)
	return ws.Clone(), nil
}

// Discard drops the workspace from the cache and the mirror.
func (s *Service) Discard(ctx context.Context, userID, diagramID string) {
	key := Key(userID, normalizeID(diagramID))
	defer s.locks.lock(key)()

	s.remove(ctx, key)
}

// apply records out in the workspace history and, for a valid outcome,
// stores its code and runs onValid.
func (s *Service) apply(ctx context.Context, userID, id string, out generation.Outcome, entry HistoryEntry, onValid func(*Workspace)) (*Workspace, error) {
	defer s.locks.lock(Key(userID, id))()

	ws, err := s.current(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	entry.Model = out.Model
	entry.Code = out.Code
	entry.Valid = out.Valid
	entry.Error = out.Error
	entry.Timestamp = s.now()
	ws.History = append(ws.History, entry)
	if len(ws.History) > MaxHistory {
		ws.History = append([]HistoryEntry(nil), ws.History[len(ws.History)-MaxHistory:]...)
	}

	if out.Valid {
		ws.Code = out.Code
		ws.HasUnsavedChanges = true
		if onValid != nil {
			onValid(ws)
		}
	}

	s.put(ctx, Key(userID, id), ws)
	return ws.Clone(), nil
}

// current returns the cached workspace, falling back to the mirror and
// then to open. Callers hold the lock for the key.
func (s *Service) current(ctx context.Context, userID, id string) (*Workspace, error) {
	key := Key(userID, id)
	if ws, ok := s.cache.Get(key); ok {
		return ws, nil
	}

	if s.mirror != nil {
		ws, err := s.mirror.Load(ctx, key)
		switch {
		case err == nil && ws.UserID == userID:
			s.cache.Put(key, ws)
			return ws, nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			s.logger.Warn("Failed to load workspace from mirror", "key", key, "error", err)
		}
	}

	return s.open(ctx, userID, id)
}

// open builds a workspace from the diagram store, or an empty one when id
// is empty, and caches it. Callers hold the lock for the key.
func (s *Service) open(ctx context.Context, userID, id string) (*Workspace, error) {
	now := s.now()
	ws := &Workspace{
		UserID:      userID,
		Title:       DefaultTitle,
		DiagramType: string(diagram.DefaultType),
		CreatedAt:   now,
	}

	if id != "" {
		if s.diagrams == nil {
			return nil, ErrDiagramNotFound
		}
		d, err := s.diagrams.Find(ctx, userID, id)
		if err != nil {
			return nil, s.findError(err)
		}
		ws.DiagramID = d.ID
		ws.Title = d.Title
		ws.DiagramType = d.Type
		ws.CurrentPrompt = d.Prompt
		ws.Code = d.Code
		s.logger.Info("Loaded diagram into workspace", "user_id", userID, "diagram_id", id)
	} else {
		s.logger.Info("Created new workspace", "user_id", userID)
	}

	s.put(ctx, Key(userID, id), ws)
	return ws, nil
}

func (s *Service) findError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrDiagramNotFound, err)
	}
	return fmt.Errorf("load diagram: %w", err)
}

func (s *Service) put(ctx context.Context, key string, ws *Workspace) {
	ws.UpdatedAt = s.now()
	s.cache.Put(key, ws)
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Store(ctx, key, ws); err != nil {
		s.logger.Warn("Failed to mirror workspace", "key", key, "error", err)
	}
}

func (s *Service) remove(ctx context.Context, key string) {
	s.cache.Delete(key)
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Remove(ctx, key); err != nil {
		s.logger.Warn("Failed to remove mirrored workspace", "key", key, "error", err)
	}
}

func normalizeID(diagramID string) string {
	if diagramID == NewDiagramID {
		return ""
	}
	return diagramID
}
