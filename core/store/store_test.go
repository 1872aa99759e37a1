package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/citro80/core/model"
)

func TestPatchValidate(t *testing.T) {
	bad := 101
	neg := -1
	ok := 80
	assert.True(t, errors.Is(Patch{DesiredMaxCharge: &bad}.Validate(), ErrInvalid))
	assert.True(t, errors.Is(Patch{DesiredMaxCharge: &neg}.Validate(), ErrInvalid))
	assert.NoError(t, Patch{DesiredMaxCharge: &ok}.Validate())
	assert.NoError(t, Patch{}.Validate())
}

func TestPatchApply(t *testing.T) {
	s := model.VehicleSettings{DesiredMaxCharge: 80}
	same := 80
	assert.False(t, Patch{DesiredMaxCharge: &same}.Apply(&s))

	lvl := 70
	on := true
	assert.True(t, Patch{DesiredMaxCharge: &lvl, IsActive: &on}.Apply(&s))
	assert.Equal(t, 70, s.DesiredMaxCharge)
	assert.True(t, s.IsActive)
}

func TestPatchApplyRearmClearsLastAction(t *testing.T) {
	act := "act-1"
	on := true
	off := false
	lvl := 70

	s := model.VehicleSettings{DesiredMaxCharge: 80, LastActionID: &act}
	assert.True(t, Patch{DesiredMaxCharge: &lvl}.Apply(&s))
	assert.Equal(t, &act, s.LastActionID, "threshold change keeps the action")

	assert.True(t, Patch{IsActive: &on}.Apply(&s))
	assert.True(t, s.IsActive)
	assert.Nil(t, s.LastActionID)

	s.LastActionID = &act
	assert.False(t, Patch{IsActive: &on}.Apply(&s))
	assert.Equal(t, &act, s.LastActionID, "already armed keeps the action")

	assert.True(t, Patch{IsActive: &off}.Apply(&s))
	assert.Equal(t, &act, s.LastActionID)
}

func TestHooksFireInOrder(t *testing.T) {
	var h Hooks
	var got []string
	h.OnCommit(func(_ context.Context, s model.VehicleSettings) { got = append(got, "a:"+s.ExternalID) })
	h.OnCommit(nil)
	h.OnCommit(func(_ context.Context, s model.VehicleSettings) { got = append(got, "b:"+s.ExternalID) })
	h.Fire(context.Background(), model.VehicleSettings{ExternalID: "v1"})
	assert.Equal(t, []string{"a:v1", "b:v1"}, got)
}
