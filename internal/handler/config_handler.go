package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-dispatcher/internal/credentials"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	"github.com/kursadbilgin/campaign-dispatcher/internal/observability"
)

type ConfigHandler struct {
	handles map[domain.Provider]credentials.Handle
	metrics *observability.Metrics
}

func NewConfigHandler(handles map[domain.Provider]credentials.Handle, metrics *observability.Metrics) (*ConfigHandler, error) {
	if len(handles) == 0 {
		return nil, fmt.Errorf("at least one credential handle is required")
	}
	return &ConfigHandler{handles: handles, metrics: metrics}, nil
}

func RegisterConfigRoutes(router fiber.Router, handles map[domain.Provider]credentials.Handle, metrics *observability.Metrics) error {
	h, err := NewConfigHandler(handles, metrics)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/providers/:provider/config", h.GetConfig)
	v1.Put("/providers/:provider/config", h.PutConfig)
	v1.Post("/providers/:provider/config/refresh", h.RefreshConfig)

	return nil
}

type configResponse struct {
	Provider string            `json:"provider"`
	Complete bool              `json:"complete"`
	Fields   map[string]string `json:"fields"`
}

func (h *ConfigHandler) GetConfig(c *fiber.Ctx) error {
	provider, handle, err := h.handle(c)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(h.view(c, provider, handle))
}

// PutConfig replaces the provider credentials. Fields left at the redaction placeholder keep
// their stored value.
func (h *ConfigHandler) PutConfig(c *fiber.Ctx) error {
	provider, handle, err := h.handle(c)
	if err != nil {
		return err
	}

	var fields map[string]string
	if err := c.BodyParser(&fields); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: at least one credential field is required", domain.ErrValidation)
	}

	ok := handle.PutFields(c.Context(), fields)
	h.metrics.IncCredentialUpdate(provider.String(), ok)
	if !ok {
		return fiber.NewError(fiber.StatusBadGateway, "failed to persist provider credentials")
	}

	return c.Status(fiber.StatusOK).JSON(h.view(c, provider, handle))
}

func (h *ConfigHandler) RefreshConfig(c *fiber.Ctx) error {
	provider, handle, err := h.handle(c)
	if err != nil {
		return err
	}

	handle.Refresh()
	return c.Status(fiber.StatusOK).JSON(h.view(c, provider, handle))
}

func (h *ConfigHandler) handle(c *fiber.Ctx) (domain.Provider, credentials.Handle, error) {
	provider, err := domain.ParseProviderFromString(c.Params("provider"))
	if err != nil {
		return "", nil, err
	}
	handle, ok := h.handles[provider]
	if !ok {
		return "", nil, fmt.Errorf("%w: provider %s is not enabled", domain.ErrNotFound, provider)
	}
	return provider, handle, nil
}

func (h *ConfigHandler) view(c *fiber.Ctx, provider domain.Provider, handle credentials.Handle) configResponse {
	return configResponse{
		Provider: provider.String(),
		Complete: handle.IsComplete(c.Context()),
		Fields:   handle.MaskedFields(c.Context()),
	}
}
