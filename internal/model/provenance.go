package model

import (
	"strings"
	"time"
)

// ActorAssistant identifies mutations made by the chat assistant on behalf of
// a user. Any actor prefixed with ActorAgentPrefix is treated as automated.
const (
	ActorAgentPrefix = "agent:"
	ActorAssistant   = ActorAgentPrefix + "assistant"
	ActorImporter    = ActorAgentPrefix + "import"
)

// IsAutomatedActor reports whether actor names an automated agent.
func IsAutomatedActor(actor string) bool {
	return strings.HasPrefix(actor, ActorAgentPrefix)
}

// ProvenanceEvent is an immutable record of one accepted field mutation.
// ID doubles as the insertion sequence used to break created_at ties.
type ProvenanceEvent struct {
	ID        int64       `json:"id"`
	EntityID  string      `json:"entity_id"`
	FieldName string      `json:"field_name"`
	OldValue  *FieldValue `json:"old_value"`
	NewValue  FieldValue  `json:"new_value"`
	// RawValue holds the submitted value when normalization changed it.
	RawValue  *FieldValue `json:"raw_value,omitempty"`
	Actor     string      `json:"actor"`
	Context   string      `json:"context,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Changed reports whether the event altered the stored value.
func (e ProvenanceEvent) Changed() bool {
	if e.OldValue == nil {
		return true
	}
	return !e.OldValue.Equal(e.NewValue)
}

// ProvenanceFilter narrows provenance queries. Zero fields match everything.
type ProvenanceFilter struct {
	EntityID  string     `json:"entity_id,omitempty"`
	FieldName string     `json:"field_name,omitempty"`
	Actor     string     `json:"actor,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
	// Ascending returns oldest events first.
	Ascending bool `json:"-"`
}
