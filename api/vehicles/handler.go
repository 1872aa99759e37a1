// Package vehicles serves the signed-in user's linked vehicles and their
// stop-charging settings.
package vehicles

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/citro80/auth"
	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/core/store"
	"github.com/kilianp07/citro80/infra/enode"
	"github.com/kilianp07/citro80/infra/logger"
)

// Lister returns the vehicles a user linked at the provider.
type Lister interface {
	ListVehicles(ctx context.Context, userID string) ([]model.Vehicle, error)
}

// ListerFunc adapts a function to Lister.
type ListerFunc func(ctx context.Context, userID string) ([]model.Vehicle, error)

// ListVehicles calls f.
func (f ListerFunc) ListVehicles(ctx context.Context, userID string) ([]model.Vehicle, error) {
	return f(ctx, userID)
}

// Linker starts a provider link session.
type Linker interface {
	LinkUser(ctx context.Context, userID, redirectURI string) (enode.LinkSession, error)
}

// Vehicle is one entry of GET /api/vehicles.
type Vehicle struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	BatteryLevel     *int   `json:"batteryLevel"`
	IsCharging       bool   `json:"isCharging"`
	DesiredMaxCharge int    `json:"desiredMaxCharge"`
	IsActive         bool   `json:"isActive"`
}

// Handler serves the vehicle endpoints.
type Handler struct {
	vehicles Lister
	linker   Linker
	settings store.Settings
	log      logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(vehicles Lister, linker Linker, settings store.Settings, log logger.Logger) (*Handler, error) {
	if vehicles == nil || linker == nil || settings == nil {
		return nil, fmt.Errorf("nil parameter provided")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Handler{vehicles: vehicles, linker: linker, settings: settings, log: log}, nil
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/setup", h.setup)
	r.GET("/vehicles", h.list)
	r.PUT("/charges/:vehicleId", h.saveCharge)
}

func (h *Handler) setup(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	h.log.Infow("setup initiated", map[string]any{"user_id": claims.Subject})
	link, err := h.linker.LinkUser(c.Request.Context(), claims.Subject, "")
	if err != nil {
		h.internal(c, "link user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": link.LinkURL})
}

func (h *Handler) list(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	ctx := c.Request.Context()
	linked, err := h.vehicles.ListVehicles(ctx, claims.Subject)
	if err != nil {
		h.internal(c, "list vehicles", err)
		return
	}
	ids := make([]string, 0, len(linked))
	for _, v := range linked {
		ids = append(ids, v.ID)
	}
	settings := map[string]model.VehicleSettings{}
	if len(ids) > 0 {
		if settings, err = h.settings.GetMany(ctx, ids); err != nil {
			h.internal(c, "load settings", err)
			return
		}
	}
	out := make([]Vehicle, 0, len(linked))
	for _, v := range linked {
		entry := Vehicle{
			ID:               v.ID,
			Name:             v.Information.DisplayName,
			BatteryLevel:     v.ChargeState.BatteryLevel,
			IsCharging:       v.ChargeState.IsCharging,
			DesiredMaxCharge: model.DefaultMaxCharge,
		}
		if s, ok := settings[v.ID]; ok {
			entry.DesiredMaxCharge = s.DesiredMaxCharge
			entry.IsActive = s.IsActive
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) saveCharge(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	ctx := c.Request.Context()
	vehicleID := c.Param("vehicleId")

	var patch store.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := patch.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxCharge must be between 0 and 100"})
		return
	}

	linked, err := h.vehicles.ListVehicles(ctx, claims.Subject)
	if err != nil {
		h.internal(c, "list vehicles", err)
		return
	}
	if !owns(linked, vehicleID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}

	saved, err := h.settings.Save(ctx, claims.Subject, vehicleID, patch)
	switch {
	case errors.Is(err, store.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "vehicle belongs to another user"})
		return
	case errors.Is(err, store.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry"})
		return
	case err != nil:
		h.internal(c, "save settings", err)
		return
	}
	h.log.Infow("charge settings saved", map[string]any{
		"user_id":    claims.Subject,
		"vehicle_id": vehicleID,
		"max_charge": saved.DesiredMaxCharge,
		"is_active":  saved.IsActive,
	})
	c.JSON(http.StatusOK, gin.H{"maxCharge": saved.DesiredMaxCharge, "isActive": saved.IsActive})
}

func (h *Handler) internal(c *gin.Context, op string, err error) {
	h.log.Errorf("%s: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func owns(vs []model.Vehicle, id string) bool {
	for _, v := range vs {
		if v.ID == id {
			return true
		}
	}
	return false
}
