package audit

import (
	"encoding/json"
	"time"
)

// Entry is one audit row. Everything beyond Action is optional.
type Entry struct {
	ID            int64           `json:"id"`
	Action        string          `json:"action"`
	UserID        *int64          `json:"user_id,omitempty"`
	EntityType    string          `json:"entity_type,omitempty"`
	EntityID      *string         `json:"entity_id,omitempty"`
	PreviousValue json.RawMessage `json:"previous_value,omitempty"`
	NewValue      json.RawMessage `json:"new_value,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	IPAddress     string          `json:"ip_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	RequestPath   string          `json:"request_path,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SearchFilter narrows audit queries.
type SearchFilter struct {
	Action     string
	UserID     *int64
	EntityType string
	EntityID   string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}
