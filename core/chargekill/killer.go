package chargekill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/citro80/core/events"
	"github.com/kilianp07/citro80/core/logger"
	"github.com/kilianp07/citro80/core/metrics"
	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/core/store"
)

// ChargeStates reads live charging telemetry.
type ChargeStates interface {
	GetChargeState(ctx context.Context, vehicleID string) (model.ChargeState, error)
}

// Actions issues and inspects charge commands.
type Actions interface {
	DispatchStopCommand(ctx context.Context, vehicleID string) (model.ActionRecord, error)
	GetActionRecord(ctx context.Context, actionID string) (model.ActionRecord, error)
}

// Settings is the part of the settings store the evaluation needs.
type Settings interface {
	Update(ctx context.Context, vehicleID string, fn store.UpdateFunc) (model.VehicleSettings, error)
}

// EventPublisher receives charge events. *eventbus.TypedBus satisfies it.
type EventPublisher interface {
	Publish(ev events.ChargeEvent)
}

// Outcome classifies one evaluation.
type Outcome int

const (
	OutcomeInactive Outcome = iota
	OutcomeNotYet
	OutcomeDispatched
	OutcomeReused
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInactive:
		return "inactive"
	case OutcomeNotYet:
		return "not_yet"
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeReused:
		return "reused"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes what an evaluation did.
type Result struct {
	VehicleID    string
	UserID       string
	Outcome      Outcome
	Threshold    int
	BatteryLevel *int
	Action       *model.ActionRecord
	Deactivated  bool
}

// Killer runs the stop-charging decision procedure.
type Killer struct {
	settings Settings
	states   ChargeStates
	actions  Actions
	metrics  metrics.Sink
	bus      EventPublisher
	logger   logger.Logger
	now      func() time.Time
}

// New creates a Killer. The metrics sink and event publisher are optional.
func New(settings Settings, states ChargeStates, actions Actions, sink metrics.Sink, bus EventPublisher, log logger.Logger) (*Killer, error) {
	if settings == nil || states == nil || actions == nil || log == nil {
		return nil, fmt.Errorf("chargekill: nil parameter provided to New")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Killer{
		settings: settings,
		states:   states,
		actions:  actions,
		metrics:  sink,
		bus:      bus,
		logger:   log,
		now:      time.Now,
	}, nil
}

// Evaluate runs the decision procedure for one vehicle. Not having reached
// the threshold is an outcome, not an error. Provider failures are returned
// as *DispatchError.
func (k *Killer) Evaluate(ctx context.Context, vehicleID string) (Result, error) {
	var res Result
	var state model.ChargeState
	_, err := k.settings.Update(ctx, vehicleID, func(s *model.VehicleSettings) (bool, error) {
		res = Result{VehicleID: vehicleID, UserID: s.UserID, Threshold: s.DesiredMaxCharge}
		if !s.IsActive {
			res.Outcome = OutcomeInactive
			return false, nil
		}

		cs, err := k.states.GetChargeState(ctx, vehicleID)
		if err != nil {
			return false, &DispatchError{VehicleID: vehicleID, Op: "get charge state", Err: err}
		}
		state = cs
		res.BatteryLevel = cs.BatteryLevel

		if !cs.ReachedThreshold(s.DesiredMaxCharge) {
			res.Outcome = OutcomeNotYet
			k.logger.Debugw("threshold not reached", map[string]any{
				"vehicle_id": vehicleID,
				"battery":    levelField(cs.BatteryLevel),
				"threshold":  s.DesiredMaxCharge,
				"charging":   cs.IsCharging,
			})
			return false, nil
		}

		action, reused, err := k.stopAction(ctx, vehicleID, s.LastActionID)
		if err != nil {
			return false, err
		}
		id := action.ID
		s.LastActionID = &id
		if action.State == model.ActionConfirmed {
			s.IsActive = false
			res.Deactivated = true
		}
		res.Action = &action
		res.Outcome = OutcomeDispatched
		if reused {
			res.Outcome = OutcomeReused
		}
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		res = Result{VehicleID: vehicleID, Outcome: OutcomeInactive}
		err = nil
	}
	k.record(res, state, err)
	if err != nil {
		return res, err
	}
	if res.Action != nil {
		k.logger.Infow("stop command issued", map[string]any{
			"vehicle_id":  vehicleID,
			"action_id":   res.Action.ID,
			"state":       res.Action.State.String(),
			"outcome":     res.Outcome.String(),
			"deactivated": res.Deactivated,
		})
		k.publish(res)
	}
	return res, nil
}

// stopAction returns the previous stop action when it can still be relied
// on, or dispatches a new one.
func (k *Killer) stopAction(ctx context.Context, vehicleID string, lastID *string) (model.ActionRecord, bool, error) {
	if lastID != nil && *lastID != "" {
		prev, err := k.actions.GetActionRecord(ctx, *lastID)
		switch {
		case err == nil && prev.State.Reusable():
			return prev, true, nil
		case err == nil:
			k.logger.Infof("previous action %s for vehicle %s is %s, dispatching a new one", *lastID, vehicleID, prev.State)
		case errors.Is(err, ErrActionNotFound):
			k.logger.Warnf("previous action %s for vehicle %s not found, dispatching a new one", *lastID, vehicleID)
		default:
			return model.ActionRecord{}, false, &DispatchError{VehicleID: vehicleID, Op: "get action record", Err: err}
		}
	}
	action, err := k.actions.DispatchStopCommand(ctx, vehicleID)
	if err != nil {
		return model.ActionRecord{}, false, &DispatchError{VehicleID: vehicleID, Op: "dispatch stop", Err: err}
	}
	return action, false, nil
}

func (k *Killer) record(res Result, cs model.ChargeState, evalErr error) {
	now := k.now()
	outcome := res.Outcome.String()
	if evalErr != nil {
		outcome = "error"
	}
	if err := k.metrics.RecordDecision(metrics.DecisionEvent{
		VehicleID:    res.VehicleID,
		Outcome:      outcome,
		BatteryLevel: cs.BatteryLevel,
		Threshold:    res.Threshold,
		Charging:     cs.IsCharging,
		FullyCharged: cs.IsFullyCharged,
		Time:         now,
	}); err != nil {
		k.logger.Warnf("record decision: %v", err)
	}
	if evalErr != nil || res.Action == nil {
		return
	}
	if err := k.metrics.RecordAction(metrics.ActionEvent{
		VehicleID:    res.VehicleID,
		ActionID:     res.Action.ID,
		State:        res.Action.State,
		Reused:       res.Outcome == OutcomeReused,
		Deactivated:  res.Deactivated,
		BatteryLevel: res.BatteryLevel,
		Time:         now,
	}); err != nil {
		k.logger.Warnf("record action: %v", err)
	}
}

func (k *Killer) publish(res Result) {
	if k.bus == nil {
		return
	}
	ev := events.ChargeEvent{
		Kind:         events.KindStopDispatched,
		VehicleID:    res.VehicleID,
		UserID:       res.UserID,
		ActionID:     res.Action.ID,
		ActionState:  res.Action.State,
		BatteryLevel: res.BatteryLevel,
		Threshold:    res.Threshold,
		Time:         k.now(),
	}
	if res.Outcome == OutcomeReused {
		ev.Kind = events.KindStopReused
	}
	k.bus.Publish(ev)
	if res.Deactivated {
		ev.Kind = events.KindDeactivated
		k.bus.Publish(ev)
	}
}

func levelField(level *int) any {
	if level == nil {
		return nil
	}
	return *level
}
