package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Caia-Tech/crawlfleet/internal/store"
)

// DebugHandler exposes the introspection routes spec.md §4.B/§4.C ask
// for: the semaphore's active-lease gauge and the waiting queue's
// depth, both keyed by tenant. Adapted from the teacher's
// internal/api/storage_handler.go shape (a narrow handler wrapping one
// subsystem's read-only stats) — here the subsystem is the
// coordination store's own sorted sets rather than storage metrics.
type DebugHandler struct {
	store store.Store
}

// NewDebugHandler builds a DebugHandler.
func NewDebugHandler(st store.Store) *DebugHandler {
	return &DebugHandler{store: st}
}

// GetSemaphore reports a tenant's active lease count (spec.md §4.B:
// "active-lease gauge").
func (h *DebugHandler) GetSemaphore(c *fiber.Ctx) error {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tenantId query parameter is required"})
	}
	active, err := h.store.ZCard(c.Context(), store.SemaphoreKey(tenantID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read semaphore state"})
	}
	return c.JSON(fiber.Map{
		"tenantId":     tenantID,
		"activeLeases": active,
	})
}

// GetQueue reports a tenant's waiting-queue depth (spec.md §4.C).
func (h *DebugHandler) GetQueue(c *fiber.Ctx) error {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tenantId query parameter is required"})
	}
	depth, err := h.store.ZCard(c.Context(), store.QueueKey(tenantID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read queue state"})
	}
	return c.JSON(fiber.Map{
		"tenantId": tenantID,
		"queued":   depth,
	})
}
