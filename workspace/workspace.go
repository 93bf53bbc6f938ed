// Package workspace keeps per-user editing sessions around a diagram: the
// current code, the prompt that produced it, and every generation made in
// the session. Sessions live in a TTL-bounded LRU cache and can be mirrored
// to NATS KV.
package workspace

import (
	"time"

	"github.com/c360studio/mermaidgen/storage"
)

// NewDiagramID is the diagram id segment used for unsaved workspaces.
const NewDiagramID = "new"

// DefaultTitle is the title of a workspace not yet saved as a diagram.
const DefaultTitle = "New diagram"

// ModificationPrefix prefixes the prompt of history entries produced by a
// modification.
const ModificationPrefix = "Modification: "

// HistoryEntry is one generation made inside a workspace.
type HistoryEntry struct {
	Prompt       string    `json:"prompt"`
	DiagramType  string    `json:"diagram_type"`
	Model        string    `json:"model"`
	Code         string    `json:"code"`
	Valid        bool      `json:"is_valid"`
	Error        string    `json:"error,omitempty"`
	Modification bool      `json:"is_modification,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Workspace is the editing state of one user on one diagram.
type Workspace struct {
	UserID            string         `json:"user_id"`
	DiagramID         string         `json:"diagram_id,omitempty"`
	Title             string         `json:"title"`
	DiagramType       string         `json:"diagram_type"`
	CurrentPrompt     string         `json:"current_prompt"`
	Code              string         `json:"mermaid_code"`
	HasUnsavedChanges bool           `json:"has_unsaved_changes"`
	History           []HistoryEntry `json:"generation_history"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of w.
func (w *Workspace) Clone() *Workspace {
	if w == nil {
		return nil
	}
	c := *w
	c.History = append([]HistoryEntry(nil), w.History...)
	return &c
}

// Key returns the cache and KV key of the workspace for userID on
// diagramID. An empty diagramID addresses the user's unsaved workspace.
func Key(userID, diagramID string) string {
	if diagramID == "" {
		diagramID = NewDiagramID
	}
	return storage.UserKey(userID) + "." + diagramID
}

// Patch lists workspace fields to overwrite. Nil fields are left as is.
type Patch struct {
	Title         *string `json:"title,omitempty"`
	DiagramType   *string `json:"diagram_type,omitempty"`
	CurrentPrompt *string `json:"current_prompt,omitempty"`
	Code          *string `json:"mermaid_code,omitempty"`
}

func (p Patch) apply(w *Workspace) {
	if p.Title != nil {
		w.Title = *p.Title
	}
	if p.DiagramType != nil {
		w.DiagramType = *p.DiagramType
	}
	if p.CurrentPrompt != nil {
		w.CurrentPrompt = *p.CurrentPrompt
	}
	if p.Code != nil {
		w.Code = *p.Code
	}
}
