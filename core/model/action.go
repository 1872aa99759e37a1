package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActionState is the lifecycle state of an asynchronous vehicle action.
type ActionState int

const (
	ActionUnknown ActionState = iota
	ActionPending
	ActionConfirmed
	ActionFailed
	ActionCancelled
)

// ParseActionState maps the provider representation to an ActionState.
// Unrecognised values map to ActionUnknown.
func ParseActionState(s string) ActionState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return ActionPending
	case "CONFIRMED":
		return ActionConfirmed
	case "FAILED":
		return ActionFailed
	case "CANCELLED":
		return ActionCancelled
	default:
		return ActionUnknown
	}
}

func (s ActionState) String() string {
	switch s {
	case ActionPending:
		return "PENDING"
	case ActionConfirmed:
		return "CONFIRMED"
	case ActionFailed:
		return "FAILED"
	case ActionCancelled:
		return "CANCELLED"
	case ActionUnknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("ActionState(%d)", int(s))
}

// Reusable reports whether an action in this state may still be polled
// instead of issuing a new command.
func (s ActionState) Reusable() bool {
	switch s {
	case ActionPending, ActionConfirmed:
		return true
	case ActionFailed, ActionCancelled, ActionUnknown:
		return false
	}
	return false
}

// MarshalJSON renders the provider representation.
func (s ActionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the provider representation.
func (s *ActionState) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ParseActionState(raw)
	return nil
}

// ChargeAction is the command sent to a vehicle charger.
type ChargeAction string

const (
	ChargeStart ChargeAction = "START"
	ChargeStop  ChargeAction = "STOP"
)

// ActionRecord tracks a command issued to a vehicle at the provider.
type ActionRecord struct {
	ID            string      `json:"id"`
	UserID        string      `json:"userId"`
	State         ActionState `json:"state"`
	Kind          string      `json:"kind"`
	TargetID      string      `json:"targetId"`
	TargetType    string      `json:"targetType"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	CompletedAt   *time.Time  `json:"completedAt"`
	FailureReason *string     `json:"failureReason"`
}
