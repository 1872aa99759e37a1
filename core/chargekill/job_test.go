package chargekill

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/citro80/core/jobs"
	"github.com/kilianp07/citro80/core/model"
)

func TestHandleRunsDecision(t *testing.T) {
	st := newFakeSettings(settings(80, nil))
	p := &mockProvider{}
	p.On("GetChargeState", mock.Anything, "veh1").Return(model.ChargeState{IsCharging: true, BatteryLevel: intp(85)}, nil)
	p.On("DispatchStopCommand", mock.Anything, "veh1").Return(model.ActionRecord{ID: "act1", State: model.ActionPending}, nil)
	k, _, _ := newKiller(t, st, p)

	j, err := jobs.New(jobs.KillCharging, jobs.KillChargingPayload{VehicleID: "veh1"})
	require.NoError(t, err)
	require.NoError(t, k.Handle(context.Background(), j))
	assert.Equal(t, "act1", *st.row("veh1").LastActionID)
}

func TestHandleReturnsProviderErrors(t *testing.T) {
	st := newFakeSettings(settings(80, nil))
	p := &mockProvider{}
	p.On("GetChargeState", mock.Anything, "veh1").Return(model.ChargeState{}, errors.New("timeout"))
	k, _, _ := newKiller(t, st, p)

	j, err := jobs.New(jobs.KillCharging, jobs.KillChargingPayload{VehicleID: "veh1"})
	require.NoError(t, err)
	err = k.Handle(context.Background(), j)
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.False(t, jobs.IsPermanent(err))
}

func TestHandleRejectsBadPayload(t *testing.T) {
	k, _, _ := newKiller(t, newFakeSettings(), &mockProvider{})
	err := k.Handle(context.Background(), jobs.Job{Name: jobs.KillCharging, Payload: []byte(`{`)})
	assert.True(t, jobs.IsPermanent(err))

	j, err := jobs.New(jobs.KillCharging, jobs.KillChargingPayload{})
	require.NoError(t, err)
	assert.True(t, jobs.IsPermanent(k.Handle(context.Background(), j)))
}
