package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/citro80/core/metrics"
	"github.com/kilianp07/citro80/infra/logger"
)

func TestNewAndDecode(t *testing.T) {
	j, err := New(KillCharging, KillChargingPayload{VehicleID: "veh1"})
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempt)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", j.ID.String())
	assert.JSONEq(t, `{"vehicleId":"veh1"}`, string(j.Payload))

	p, err := Decode[KillChargingPayload](j)
	require.NoError(t, err)
	assert.Equal(t, "veh1", p.VehicleID)
}

func TestDecodeMalformedIsPermanent(t *testing.T) {
	_, err := Decode[SendEmailPayload](Job{Name: SendEmail, Payload: []byte("{")})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(SendEmail, func(context.Context, Job) error { return nil })
	reg.Register(KillCharging, func(context.Context, Job) error { return nil })
	_, ok := reg.Lookup(KillCharging)
	assert.True(t, ok)
	_, ok = reg.Lookup("nope")
	assert.False(t, ok)
	assert.Equal(t, []string{KillCharging, SendEmail}, reg.Names())
}

type jobSink struct {
	metrics.NopSink
	events []metrics.JobEvent
}

func (s *jobSink) RecordJob(ev metrics.JobEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func TestRunnerRun(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	reg.Register("ok", func(context.Context, Job) error { return nil })
	reg.Register("fail", func(context.Context, Job) error { return boom })
	reg.Register("panic", func(context.Context, Job) error { panic("bad") })
	reg.Register("slow", func(ctx context.Context, _ Job) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sink := &jobSink{}
	r := &Runner{Registry: reg, Timeout: 20 * time.Millisecond, Metrics: sink, Logger: logger.NopLogger{}}

	assert.NoError(t, r.Run(context.Background(), Job{Name: "ok"}))
	assert.ErrorIs(t, r.Run(context.Background(), Job{Name: "fail"}), boom)
	assert.True(t, IsPermanent(r.Run(context.Background(), Job{Name: "panic"})))
	assert.ErrorIs(t, r.Run(context.Background(), Job{Name: "slow"}), context.DeadlineExceeded)

	err := r.Run(context.Background(), Job{Name: "missing"})
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.True(t, IsPermanent(err))

	require.Len(t, sink.events, 4)
	assert.False(t, sink.events[0].Failed)
	assert.True(t, sink.events[1].Failed)
}
