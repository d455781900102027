package events

import "github.com/google/uuid"

// SyncCompleted is emitted after each entity-type sync pass, including failed ones.
type SyncCompleted struct {
	ButtonID uuid.UUID `json:"button_id"`
	Entity   string    `json:"entity"`
	Success  bool      `json:"success"`
	Created  int       `json:"created"`
	Updated  int       `json:"updated"`
	Skipped  int       `json:"skipped"`
	Error    string    `json:"error,omitempty"`
}

// ReconcileCompleted is emitted after an organization reconciliation pass.
type ReconcileCompleted struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Success        bool      `json:"success"`
	Matched        int       `json:"matched"`
	Pending        int       `json:"pending"`
	Error          string    `json:"error,omitempty"`
}
