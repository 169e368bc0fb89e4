package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/core/service"
	"github.com/rl1809/inventory-service/internal/logger"
)

// InventoryCommands is the command boundary served by HTTP and the work queue.
type InventoryCommands interface {
	CreateInventory(ctx context.Context, sku string, qty int) (service.Result, error)
	Reserve(ctx context.Context, sku string, qty int) (service.Result, error)
	Release(ctx context.Context, sku string, qty int) (service.Result, error)
	Replenish(ctx context.Context, sku string, qty int) (service.Result, error)
	GetInventory(ctx context.Context, sku string) (service.Snapshot, error)
}

type HTTPHandler struct {
	commands InventoryCommands
	logger   *zap.Logger
}

type CreateInventoryRequest struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type QuantityRequest struct {
	Qty int `json:"qty"`
}

type InventoryResponse struct {
	SKU            string `json:"sku"`
	Available      int    `json:"available"`
	Version        int64  `json:"version"`
	EventDelivered *bool  `json:"event_delivered,omitempty"`
	Warning        string `json:"warning,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func NewHTTPHandler(commands InventoryCommands, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{commands: commands, logger: logger}
}

func (h *HTTPHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	inventory := app.Group("/inventory")
	inventory.Post("", h.Create)
	inventory.Get("/:sku", h.Get)
	inventory.Post("/:sku/reserve", h.mutation(h.commands.Reserve))
	inventory.Post("/:sku/release", h.mutation(h.commands.Release))
	inventory.Post("/:sku/replenish", h.mutation(h.commands.Replenish))
}

func (h *HTTPHandler) Create(c *fiber.Ctx) error {
	var req CreateInventoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	res, err := h.commands.CreateInventory(c.UserContext(), req.SKU, req.Qty)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(resultResponse(res))
}

func (h *HTTPHandler) Get(c *fiber.Ctx) error {
	snap, err := h.commands.GetInventory(c.UserContext(), c.Params("sku"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(InventoryResponse{
		SKU:       snap.SKU,
		Available: snap.Available,
		Version:   snap.Version,
	})
}

func (h *HTTPHandler) mutation(command func(ctx context.Context, sku string, qty int) (service.Result, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req QuantityRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
		}

		res, err := command(c.UserContext(), c.Params("sku"), req.Qty)
		if err != nil {
			return h.fail(c, err)
		}

		return c.JSON(resultResponse(res))
	}
}

func (h *HTTPHandler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *HTTPHandler) fail(c *fiber.Ctx, err error) error {
	status, body := errorStatus(err)
	if status == fiber.StatusInternalServerError {
		logger.Error(c.UserContext(), h.logger, "command failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		body.Error = "internal error"
	}
	return c.Status(status).JSON(body)
}

func errorStatus(err error) (int, ErrorResponse) {
	body := ErrorResponse{Error: err.Error()}

	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest, body
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, body
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrAlreadyExists):
		return fiber.StatusConflict, body
	case errors.Is(err, domain.ErrConcurrencyConflict):
		body.Retryable = true
		return fiber.StatusConflict, body
	default:
		return fiber.StatusInternalServerError, body
	}
}

func resultResponse(res service.Result) InventoryResponse {
	delivered := res.EventDelivered
	resp := InventoryResponse{
		SKU:            res.SKU,
		Available:      res.Available,
		Version:        res.Version,
		EventDelivered: &delivered,
	}
	if res.Degraded() {
		resp.Warning = "state changed but the change notification may not have been delivered"
	}
	return resp
}
