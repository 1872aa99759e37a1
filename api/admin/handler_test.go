package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/citro80/core/jobs"
	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/core/store"
	"github.com/kilianp07/citro80/infra/sqlite"
)

type recordQueue struct {
	mu       sync.Mutex
	payloads []any
}

func (q *recordQueue) Enqueue(_ context.Context, name string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, payload)
	return nil
}

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func setup(t *testing.T) (*gin.Engine, *sqlite.Store, *recordQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	q := &recordQueue{}
	h, err := NewHandler(st, q, nil)
	require.NoError(t, err)
	r := gin.New()
	h.Register(r.Group("/api/admin"))
	return r, st, q
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListUsersAndVehicles(t *testing.T) {
	r, st, _ := setup(t)
	ctx := context.Background()

	w := do(r, http.MethodGet, "/api/admin/users", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	_, err := st.GetOrCreateUser(ctx, "a@example.com")
	require.NoError(t, err)
	_, err = st.Save(ctx, "u1", "veh2", store.Patch{DesiredMaxCharge: intp(70)})
	require.NoError(t, err)
	_, err = st.Save(ctx, "u1", "veh1", store.Patch{IsActive: boolp(true)})
	require.NoError(t, err)

	w = do(r, http.MethodGet, "/api/admin/users", "")
	var users []model.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "a@example.com", users[0].Email)

	w = do(r, http.MethodGet, "/api/admin/vehicles", "")
	require.Equal(t, http.StatusOK, w.Code)
	var vs []model.VehicleSettings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vs))
	require.Len(t, vs, 2)
	assert.Equal(t, "veh1", vs[0].ExternalID)
	assert.Equal(t, "veh2", vs[1].ExternalID)
}

func TestPatchVehicle(t *testing.T) {
	r, st, _ := setup(t)
	ctx := context.Background()
	_, err := st.Save(ctx, "u1", "veh1", store.Patch{IsActive: boolp(true)})
	require.NoError(t, err)

	w := do(r, http.MethodPatch, "/api/admin/vehicles/veh1", `{"isActive":false,"maxCharge":90}`)
	require.Equal(t, http.StatusOK, w.Code)
	s, err := st.Get(ctx, "veh1")
	require.NoError(t, err)
	assert.False(t, s.IsActive)
	assert.Equal(t, 90, s.DesiredMaxCharge)

	w = do(r, http.MethodPatch, "/api/admin/vehicles/veh1", `{"maxCharge":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodPatch, "/api/admin/vehicles/missing", `{"isActive":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKillNowEnqueues(t *testing.T) {
	r, st, q := setup(t)
	_, err := st.Save(context.Background(), "u1", "veh1", store.Patch{})
	require.NoError(t, err)

	w := do(r, http.MethodPost, "/api/admin/vehicles/veh1/kill", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, q.payloads, 1)
	assert.Equal(t, jobs.KillChargingPayload{VehicleID: "veh1"}, q.payloads[0])

	w = do(r, http.MethodPost, "/api/admin/vehicles/missing/kill", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, q.payloads, 1)
}
