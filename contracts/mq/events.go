package mq

import "time"

// Routing keys on the assistant.events exchange.
const (
	RoutingKeyClassifyTodo = "todo.classify"
	RoutingKeyTodosUpdated = "todo.updated"
	RoutingKeyTagResolved  = "todo.tag.resolved"
	RoutingKeyTop3Selected = "top3.selected"
)

// ClassifyTodoPayload asks the classify worker to resolve a project
// tag for one todo. PersonaKey is captured at enqueue time so a later
// persona switch does not change how the message is handled.
type ClassifyTodoPayload struct {
	TodoID     string    `json:"todo_id"`
	PersonaKey string    `json:"persona_key"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TodosUpdatedPayload announces that a poll cycle stored new todos.
type TodosUpdatedPayload struct {
	PersonaKey string    `json:"persona_key"`
	TodoIDs    []string  `json:"todo_ids"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TagResolvedPayload announces a finished classification.
type TagResolvedPayload struct {
	TodoID     string    `json:"todo_id"`
	PersonaKey string    `json:"persona_key"`
	Tag        string    `json:"tag,omitempty"`
	Source     string    `json:"source"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Top3SelectedPayload announces a finished Top-3 selection.
type Top3SelectedPayload struct {
	PersonaKey string    `json:"persona_key"`
	Rule       string    `json:"rule,omitempty"`
	TodoIDs    []string  `json:"todo_ids"`
	Mode       string    `json:"mode"`
	SelectedAt time.Time `json:"selected_at"`
}
