package events

import (
	"context"
	"time"

	"github.com/kilianp07/citro80/core/model"
)

// ChargeEventKind tells subscribers what happened to a vehicle.
type ChargeEventKind string

const (
	KindStopDispatched ChargeEventKind = "stop_dispatched"
	KindStopReused     ChargeEventKind = "stop_reused"
	KindDeactivated    ChargeEventKind = "deactivated"
)

// ChargeEvent is published when the decision procedure acted on a vehicle.
type ChargeEvent struct {
	Kind         ChargeEventKind   `json:"kind"`
	VehicleID    string            `json:"vehicleId"`
	UserID       string            `json:"userId"`
	ActionID     string            `json:"actionId"`
	ActionState  model.ActionState `json:"actionState"`
	BatteryLevel *int              `json:"batteryLevel,omitempty"`
	Threshold    int               `json:"threshold"`
	Time         time.Time         `json:"time"`
}

// Publisher forwards charge events to an external transport.
type Publisher interface {
	PublishChargeEvent(ctx context.Context, ev ChargeEvent) error
}
