// Package admin exposes superuser endpoints over every user and vehicle.
package admin

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/citro80/core/jobs"
	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/core/store"
	"github.com/kilianp07/citro80/infra/logger"
)

// Handler serves /api/admin.
type Handler struct {
	store store.Store
	queue jobs.Queue
	log   logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(st store.Store, queue jobs.Queue, log logger.Logger) (*Handler, error) {
	if st == nil || queue == nil {
		return nil, fmt.Errorf("nil parameter provided")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Handler{store: st, queue: queue, log: log}, nil
}

// Register mounts the routes on a superuser-only group.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/users", h.listUsers)
	r.GET("/vehicles", h.listVehicles)
	r.PATCH("/vehicles/:vehicleId", h.patchVehicle)
	r.POST("/vehicles/:vehicleId/kill", h.killNow)
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		h.internal(c, "list users", err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) listVehicles(c *gin.Context) {
	all, err := h.store.GetMany(c.Request.Context(), nil)
	if err != nil {
		h.internal(c, "list vehicles", err)
		return
	}
	out := make([]model.VehicleSettings, 0, len(all))
	for _, s := range all {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	c.JSON(http.StatusOK, out)
}

func (h *Handler) patchVehicle(c *gin.Context) {
	var patch store.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := patch.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxCharge must be between 0 and 100"})
		return
	}
	vehicleID := c.Param("vehicleId")
	saved, err := h.store.Update(c.Request.Context(), vehicleID, func(s *model.VehicleSettings) (bool, error) {
		return patch.Apply(s), nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry"})
		return
	case err != nil:
		h.internal(c, "update vehicle", err)
		return
	}
	h.log.Infow("admin updated vehicle", map[string]any{"vehicle_id": vehicleID, "is_active": saved.IsActive, "max_charge": saved.DesiredMaxCharge})
	c.JSON(http.StatusOK, saved)
}

func (h *Handler) killNow(c *gin.Context) {
	ctx := c.Request.Context()
	vehicleID := c.Param("vehicleId")
	if _, err := h.store.Get(ctx, vehicleID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
			return
		}
		h.internal(c, "get vehicle", err)
		return
	}
	if err := h.queue.Enqueue(ctx, jobs.KillCharging, jobs.KillChargingPayload{VehicleID: vehicleID}); err != nil {
		h.internal(c, "enqueue kill", err)
		return
	}
	h.log.Infow("admin enqueued kill", map[string]any{"vehicle_id": vehicleID})
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (h *Handler) internal(c *gin.Context, op string, err error) {
	h.log.Errorf("%s: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
