// Package wireflow provides the shared domain types for the iterative
// design session engine: session metadata, versioned design states, the
// bounded edit-context ring, and derived session metrics.
//
// The heavy lifting lives in the subpackages: store (persistence),
// version (version allocation and retention), prompt (edit classification
// and reference resolution), generator (model invocation and validation),
// sessions (orchestration), janitor (background cleanup), and server
// (HTTP surface).
package wireflow

import (
	"time"

	"github.com/deepnoodle-ai/wireflow/wireframe"
)

// SessionStatus is the lifecycle state of a design session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusExpired   SessionStatus = "expired"
)

// EditType is the coarse classification of an edit prompt.
type EditType string

const (
	EditTypeModify EditType = "modify"
	EditTypeAdd    EditType = "add"
	EditTypeRemove EditType = "remove"
	EditTypeStyle  EditType = "style"
	EditTypeLayout EditType = "layout"
)

// ContextWindowSize is the fixed capacity of the per-session context ring.
const ContextWindowSize = 10

// SessionMeta is the mutable per-session record. It is owned by the state
// store and advanced only through CompareAndSwapMetadata.
type SessionMeta struct {
	SessionID      string        `json:"session_id"`
	UserID         string        `json:"user_id,omitempty"`
	InitialPrompt  string        `json:"initial_prompt"`
	CurrentVersion int           `json:"current_version"`
	Status         SessionStatus `json:"status"`
	Quarantined    bool          `json:"quarantined,omitempty"`
	Satisfaction   *float64      `json:"user_satisfaction_score,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivity   time.Time     `json:"last_activity"`
}

// Copy returns a deep copy of the metadata.
func (m *SessionMeta) Copy() *SessionMeta {
	cp := *m
	if m.Satisfaction != nil {
		v := *m.Satisfaction
		cp.Satisfaction = &v
	}
	return &cp
}

// VersionMeta describes how a version came to be. It survives compaction.
type VersionMeta struct {
	Version       int       `json:"version"`
	ParentVersion int       `json:"parent_version"`
	Prompt        string    `json:"prompt"`
	EditType      EditType  `json:"edit_type"`
	ProcessingMS  int64     `json:"processing_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// DesignState is one immutable, numbered snapshot of the design document.
// Wireframe is nil once the version has been compacted.
type DesignState struct {
	Version     int             `json:"version"`
	Wireframe   *wireframe.Node `json:"wireframe,omitempty"`
	ContentHash string          `json:"content_hash,omitempty"`
	Compacted   bool            `json:"compacted,omitempty"`
	Meta        VersionMeta     `json:"metadata"`
}

// ContextEntry is one element of the bounded context ring, recorded after
// each committed edit.
type ContextEntry struct {
	ID             string    `json:"id"`
	Prompt         string    `json:"prompt"`
	EditType       EditType  `json:"edit_type"`
	TargetElements []string  `json:"target_elements,omitempty"`
	ResultVersion  int       `json:"result_version"`
	ProcessingMS   int64     `json:"processing_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// SessionMetrics is derived on demand from the context ring and session
// metadata; it is never stored verbatim.
type SessionMetrics struct {
	SessionID        string           `json:"session_id"`
	TotalEdits       int              `json:"total_edits"`
	DurationSeconds  float64          `json:"duration_seconds"`
	EditTypeCounts   map[EditType]int `json:"edit_type_counts"`
	MeanProcessingMS float64          `json:"mean_processing_ms"`
}

// Candidate is one possible referent offered when reference resolution
// cannot settle on a target.
type Candidate struct {
	ComponentName string `json:"component_name"`
	Type          string `json:"type"`
	Path          string `json:"path"`
}

// EditResult is the outcome of a successful ApplyEdit.
type EditResult struct {
	SessionID    string                   `json:"session_id"`
	Version      int                      `json:"version"`
	Wireframe    *wireframe.Node          `json:"wireframe"`
	Summary      *wireframe.ChangeSummary `json:"changes_summary"`
	ProcessingMS int64                    `json:"processing_ms"`

	// Clarification is non-nil when the edit was not executed because the
	// prompt's referent was ambiguous. Version and Wireframe are zero in
	// that case.
	Clarification []Candidate `json:"clarification,omitempty"`
}

// NeedsClarification reports whether the edit was declined in favor of a
// candidate list.
func (r *EditResult) NeedsClarification() bool {
	return len(r.Clarification) > 0
}

// HistoryEntry is one row of a session's version history.
type HistoryEntry struct {
	Version   int                      `json:"version"`
	Meta      VersionMeta              `json:"metadata"`
	Summary   *wireframe.ChangeSummary `json:"change_summary,omitempty"`
	Compacted bool                     `json:"compacted,omitempty"`
}
