package metrics

import (
	"time"

	"github.com/kilianp07/citro80/core/model"
)

// DecisionEvent records one evaluation of the stop-charging policy.
type DecisionEvent struct {
	VehicleID    string
	Outcome      string
	BatteryLevel *int
	Threshold    int
	Charging     bool
	FullyCharged bool
	Time         time.Time
}

// ActionEvent records a stop command that was dispatched or reused.
type ActionEvent struct {
	VehicleID    string
	ActionID     string
	State        model.ActionState
	Reused       bool
	Deactivated  bool
	BatteryLevel *int
	Time         time.Time
}

// Sink records charge-kill decisions for observability purposes.
type Sink interface {
	RecordDecision(ev DecisionEvent) error
	RecordAction(ev ActionEvent) error
}

// TickEvent captures one pass of the tick scheduler.
type TickEvent struct {
	ActiveVehicles int
	Enqueued       int
	Time           time.Time
}

// TickRecorder records scheduler ticks.
type TickRecorder interface {
	RecordTick(ev TickEvent) error
}

// JobEvent captures the execution of one background job attempt.
type JobEvent struct {
	Name     string
	Attempt  int
	Failed   bool
	Duration time.Duration
}

// JobRecorder records job executions.
type JobRecorder interface {
	RecordJob(ev JobEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordDecision(DecisionEvent) error { return nil }
func (NopSink) RecordAction(ActionEvent) error     { return nil }
func (NopSink) RecordTick(TickEvent) error         { return nil }
func (NopSink) RecordJob(JobEvent) error           { return nil }
