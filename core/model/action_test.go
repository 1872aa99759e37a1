package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionState(t *testing.T) {
	cases := map[string]ActionState{
		"PENDING":   ActionPending,
		"confirmed": ActionConfirmed,
		"FAILED":    ActionFailed,
		"CANCELLED": ActionCancelled,
		"NOT_FOUND": ActionUnknown,
		"":          ActionUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseActionState(in), in)
	}
}

func TestActionStateReusable(t *testing.T) {
	assert.True(t, ActionPending.Reusable())
	assert.True(t, ActionConfirmed.Reusable())
	assert.False(t, ActionFailed.Reusable())
	assert.False(t, ActionCancelled.Reusable())
	assert.False(t, ActionUnknown.Reusable())
}

func TestActionRecordJSON(t *testing.T) {
	raw := `{"id":"a1","state":"CONFIRMED","kind":"STOP","targetId":"v1","completedAt":null,"failureReason":null}`
	var rec ActionRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, ActionConfirmed, rec.State)
	assert.Equal(t, "STOP", rec.Kind)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"state":"CONFIRMED"`)
}

func TestReachedThreshold(t *testing.T) {
	lvl := func(v int) *int { return &v }
	tests := []struct {
		name  string
		state ChargeState
		want  bool
	}{
		{"fully charged nil level", ChargeState{IsFullyCharged: true}, true},
		{"fully charged low level", ChargeState{IsFullyCharged: true, BatteryLevel: lvl(10)}, true},
		{"not charging", ChargeState{BatteryLevel: lvl(90)}, false},
		{"charging unknown level", ChargeState{IsCharging: true}, false},
		{"below", ChargeState{IsCharging: true, BatteryLevel: lvl(60)}, false},
		{"equal", ChargeState{IsCharging: true, BatteryLevel: lvl(80)}, true},
		{"above", ChargeState{IsCharging: true, BatteryLevel: lvl(85)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.ReachedThreshold(80))
		})
	}
}

func TestUserIDForEmail(t *testing.T) {
	assert.Equal(t, UserIDForEmail("Alice@Example.com "), UserIDForEmail("alice@example.com"))
	assert.Len(t, UserIDForEmail("a@b.c"), 64)
}
