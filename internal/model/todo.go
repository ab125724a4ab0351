package model

import "time"

// Priority buckets for a TODO.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// PriorityWeight maps a priority level to its base score weight.
func PriorityWeight(p Priority) float64 {
	switch p {
	case PriorityHigh:
		return 3.0
	case PriorityMedium:
		return 2.0
	default:
		return 1.0
	}
}

// Todo status values.
const (
	StatusPending = "pending"
	StatusDone    = "done"
)

// Todo is an actionable item extracted from one message.
//
// SourceMessage is a full snapshot of the originating message, not an id
// reference. Priority evidence scoring and project-tag classification both
// re-read the original subject/body/sender, so the snapshot must always be
// carried with the TODO.
type Todo struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Requester     string     `json:"requester"`
	Type          string     `json:"type"`
	Priority      Priority   `json:"priority"`
	ProjectTag    *string    `json:"project_tag,omitempty"`
	Status        string     `json:"status"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	Evidence      []string   `json:"evidence,omitempty"`
	SourceMessage Message    `json:"source_message"`
	PersonaKey    string     `json:"persona_key"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasSnapshot reports whether the TODO carries a usable source-message
// snapshot. A TODO without one is unclassifiable (never a crash).
func (t *Todo) HasSnapshot() bool {
	return t.SourceMessage.Subject != "" || t.SourceMessage.Body != ""
}

// TagDecisionSource identifies which cascade stage produced a project tag.
type TagDecisionSource string

const (
	TagSourceCache    TagDecisionSource = "cache"
	TagSourceExplicit TagDecisionSource = "explicit"
	TagSourceLLM      TagDecisionSource = "llm"
	TagSourceAdvanced TagDecisionSource = "advanced"
	TagSourceSender   TagDecisionSource = "sender"
	TagSourceFallback TagDecisionSource = "fallback"
)

// TagDecision is the auditable outcome of one classification run.
type TagDecision struct {
	Tag    *string
	Source TagDecisionSource
	Method string
	Reason string
}

// ProjectTagCacheEntry persists a classification decision per TODO.
// Presence of an entry short-circuits all downstream classification.
type ProjectTagCacheEntry struct {
	TodoID         string
	ProjectTag     string
	Source         TagDecisionSource
	Method         string
	Reason         string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}
