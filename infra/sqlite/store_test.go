package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/core/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "citro80.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intp(v int) *int       { return &v }
func boolp(v bool) *bool    { return &v }
func strp(v string) *string { return &v }

func TestSaveCreatesWithDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Save(ctx, "u1", "v1", store.Patch{IsActive: boolp(true)})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultMaxCharge, got.DesiredMaxCharge)
	assert.True(t, got.IsActive)
	assert.Equal(t, "u1", got.UserID)

	loaded, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, got.DesiredMaxCharge, loaded.DesiredMaxCharge)
	assert.Nil(t, loaded.LastActionID)
}

func TestSavePartialUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, "u1", "v1", store.Patch{DesiredMaxCharge: intp(80), IsActive: boolp(true)})
	require.NoError(t, err)

	got, err := s.Save(ctx, "u1", "v1", store.Patch{DesiredMaxCharge: intp(90)})
	require.NoError(t, err)
	assert.Equal(t, 90, got.DesiredMaxCharge)
	assert.True(t, got.IsActive)
}

func TestSaveRejectsOtherUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, "u1", "v1", store.Patch{})
	require.NoError(t, err)
	_, err = s.Save(ctx, "u2", "v1", store.Patch{IsActive: boolp(true)})
	assert.ErrorIs(t, err, store.ErrForbidden)
}

func TestSaveValidates(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(context.Background(), "u1", "v1", store.Patch{DesiredMaxCharge: intp(120)})
	assert.ErrorIs(t, err, store.ErrInvalid)
}

func TestGetManyAndListActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Save(ctx, "u1", "v1", store.Patch{IsActive: boolp(true)})
	_, _ = s.Save(ctx, "u1", "v2", store.Patch{})
	_, _ = s.Save(ctx, "u2", "v3", store.Patch{IsActive: boolp(true)})

	some, err := s.GetMany(ctx, []string{"v1", "v2", "missing"})
	require.NoError(t, err)
	assert.Len(t, some, 2)

	all, err := s.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "v1", active[0].ExternalID)
	assert.Equal(t, "v3", active[1].ExternalID)
}

func TestUpdateWritesOnlyOnChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, "u1", "v1", store.Patch{IsActive: boolp(true)})
	require.NoError(t, err)

	var fired int32
	s.OnCommit(func(context.Context, model.VehicleSettings) { atomic.AddInt32(&fired, 1) })

	_, err = s.Update(ctx, "v1", func(*model.VehicleSettings) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))

	got, err := s.Update(ctx, "v1", func(st *model.VehicleSettings) (bool, error) {
		st.LastActionID = strp("a1")
		st.IsActive = false
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	require.NotNil(t, got.LastActionID)
	assert.Equal(t, "a1", *got.LastActionID)

	loaded, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, loaded.IsActive)
	assert.Equal(t, "a1", *loaded.LastActionID)
}

func TestUpdatePropagatesError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Save(ctx, "u1", "v1", store.Patch{})
	boom := errors.New("boom")
	_, err := s.Update(ctx, "v1", func(st *model.VehicleSettings) (bool, error) {
		st.IsActive = true
		return true, boom
	})
	assert.ErrorIs(t, err, boom)
	loaded, _ := s.Get(ctx, "v1")
	assert.False(t, loaded.IsActive)

	_, err = s.Update(ctx, "missing", func(*model.VehicleSettings) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateSerializesSameVehicle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Save(ctx, "u1", "v1", store.Patch{DesiredMaxCharge: intp(0)})

	var inside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "v1", func(st *model.VehicleSettings) (bool, error) {
				if atomic.AddInt32(&inside, 1) != 1 {
					t.Errorf("concurrent update of the same vehicle")
				}
				time.Sleep(time.Millisecond)
				st.DesiredMaxCharge++
				atomic.AddInt32(&inside, -1)
				return true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.DesiredMaxCharge)
}

func TestUpdateDifferentVehiclesDoNotBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Save(ctx, "u1", "v1", store.Patch{})
	_, _ = s.Save(ctx, "u1", "v2", store.Patch{})

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Update(ctx, "v1", func(*model.VehicleSettings) (bool, error) {
			close(started)
			<-release
			return false, nil
		})
	}()
	<-started
	_, err := s.Update(ctx, "v2", func(st *model.VehicleSettings) (bool, error) {
		st.IsActive = true
		return true, nil
	})
	require.NoError(t, err)
	close(release)
	<-done
}

func TestUpdateHoldsLockAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	worker, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = worker.Close() })
	web, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = web.Close() })

	ctx := context.Background()
	_, err = web.Save(ctx, "u1", "v1", store.Patch{DesiredMaxCharge: intp(80), IsActive: boolp(true)})
	require.NoError(t, err)

	saved := make(chan error, 1)
	_, err = worker.Update(ctx, "v1", func(st *model.VehicleSettings) (bool, error) {
		go func() {
			_, err := web.Save(ctx, "u1", "v1", store.Patch{DesiredMaxCharge: intp(90)})
			saved <- err
		}()
		select {
		case err := <-saved:
			t.Errorf("save committed while the row was locked: %v", err)
		case <-time.After(200 * time.Millisecond):
		}
		st.LastActionID = strp("a1")
		return true, nil
	})
	require.NoError(t, err)

	select {
	case err := <-saved:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("save never completed")
	}

	got, err := worker.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 90, got.DesiredMaxCharge)
	require.NotNil(t, got.LastActionID)
	assert.Equal(t, "a1", *got.LastActionID)
	assert.True(t, got.IsActive)
}

func TestSaveRearmClearsLastAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, "u1", "v1", store.Patch{IsActive: boolp(true)})
	require.NoError(t, err)
	_, err = s.Update(ctx, "v1", func(st *model.VehicleSettings) (bool, error) {
		st.LastActionID = strp("a1")
		st.IsActive = false
		return true, nil
	})
	require.NoError(t, err)

	got, err := s.Save(ctx, "u1", "v1", store.Patch{IsActive: boolp(true)})
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastActionID)

	loaded, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, loaded.LastActionID)
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetOrCreateUser(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, model.UserIDForEmail("alice@example.com"), u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Nil(t, u.EmailVerifiedAt)

	again, err := s.GetOrCreateUser(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)

	require.NoError(t, s.MarkEmailVerified(ctx, u.ID))
	require.NoError(t, s.SetSuperuser(ctx, u.ID, true))
	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.EmailVerifiedAt)
	assert.True(t, got.IsSuperuser)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = s.GetUser(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.SetSuperuser(ctx, "nope", true), store.ErrNotFound)
}
