package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"labcore/pkg/domain"
)

type dismissRequest struct {
	Session string `json:"session" binding:"required"`
	ItemID  string `json:"item_id" binding:"required"`
}

type preflightRequest struct {
	VersionID string    `json:"version_id"`
	Start     time.Time `json:"start"`
}

type requirementsRequest struct {
	Requirements []domain.ResourceRequirement `json:"requirements"`
	Window       domain.TimeWindow            `json:"window"`
}

// ListInventory returns the lab's items with derived stock levels.
func (h *Handler) ListInventory(c *gin.Context) {
	items, err := h.svc.ListInventory(c.Request.Context(), h.principal(c))
	if err != nil {
		h.fail(c, "Could not list inventory", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// DeviceHealth returns maintenance and supply health per device.
func (h *Handler) DeviceHealth(c *gin.Context) {
	devices, err := h.svc.DeviceHealth(c.Request.Context(), h.principal(c))
	if err != nil {
		h.fail(c, "Could not compute device health", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// ReorderSuggestions returns suggestions, hiding those dismissed in ?session=.
func (h *Handler) ReorderSuggestions(c *gin.Context) {
	report, err := h.svc.ReorderSuggestions(c.Request.Context(), h.principal(c), c.Query("session"))
	if err != nil {
		h.fail(c, "Could not compute reorder suggestions", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// DismissSuggestion hides one suggestion for a session.
func (h *Handler) DismissSuggestion(c *gin.Context) {
	var req dismissRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "details": err.Error()})
		return
	}
	if err := h.svc.DismissSuggestion(c.Request.Context(), h.principal(c), req.Session, req.ItemID); err != nil {
		h.fail(c, "Could not dismiss suggestion", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearDismissals restores every suggestion for a session.
func (h *Handler) ClearDismissals(c *gin.Context) {
	if err := h.svc.ClearDismissals(c.Request.Context(), h.principal(c), c.Param("session")); err != nil {
		h.fail(c, "Could not clear dismissals", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Preflight checks a protocol version. The body is optional.
func (h *Handler) Preflight(c *gin.Context) {
	var req preflightRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "details": err.Error()})
			return
		}
	}
	report, err := h.svc.Preflight(c.Request.Context(), h.principal(c), c.Param("id"), req.VersionID, req.Start)
	if err != nil {
		h.fail(c, "Could not run preflight", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CheckRequirements runs the gate over a posted requirement list.
func (h *Handler) CheckRequirements(c *gin.Context) {
	var req requirementsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "details": err.Error()})
		return
	}
	report, err := h.svc.CheckRequirements(c.Request.Context(), h.principal(c), req.Requirements, req.Window)
	if err != nil {
		h.fail(c, "Could not check requirements", err)
		return
	}
	c.JSON(http.StatusOK, report)
}
