package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-dispatcher/internal/dispatch"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
)

type RunService interface {
	Dispatch(ctx context.Context, provider domain.Provider, recipients []domain.Recipient, campaign domain.Campaign) (domain.DispatchResult, error)
	StartRun(ctx context.Context, provider domain.Provider, recipients []domain.Recipient, campaign domain.Campaign) (*domain.DispatchRun, error)
	GetRun(ctx context.Context, id string) (*domain.DispatchRun, error)
	GetProgress(ctx context.Context, id string) (dispatch.Progress, error)
	SendTest(ctx context.Context, provider domain.Provider, address string, name string) (domain.DispatchResult, error)
}

type DispatchHandler struct {
	service RunService
}

func NewDispatchHandler(service RunService) (*DispatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("run service is required")
	}
	return &DispatchHandler{service: service}, nil
}

func RegisterDispatchRoutes(router fiber.Router, service RunService) error {
	h, err := NewDispatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/providers/:provider/dispatch", h.Dispatch)
	v1.Post("/providers/:provider/runs", h.StartRun)
	v1.Post("/providers/:provider/test", h.SendTest)
	v1.Get("/runs/:id", h.GetRun)
	v1.Get("/runs/:id/progress", h.GetProgress)

	return nil
}

type recipientRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type dispatchRequest struct {
	Recipients []recipientRequest `json:"recipients"`
	Message    string             `json:"message"`
	MediaURL   string             `json:"mediaUrl"`
	Subject    string             `json:"subject"`
}

type testRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type outcomeResponse struct {
	Address           string `json:"address"`
	Name              string `json:"name,omitempty"`
	Status            string `json:"status"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	ErrorReason       string `json:"errorReason,omitempty"`
	ErrorCode         string `json:"errorCode,omitempty"`
}

type dispatchResultResponse struct {
	Provider    string            `json:"provider"`
	Status      string            `json:"status"`
	SentCount   int               `json:"sentCount"`
	FailedCount int               `json:"failedCount"`
	Errors      []string          `json:"errors"`
	Details     []outcomeResponse `json:"details"`
	StartedAt   time.Time         `json:"startedAt"`
	FinishedAt  time.Time         `json:"finishedAt"`
}

type runResponse struct {
	ID          string            `json:"id"`
	Provider    string            `json:"provider"`
	Status      string            `json:"status"`
	TotalCount  int               `json:"totalCount"`
	SentCount   int               `json:"sentCount"`
	FailedCount int               `json:"failedCount"`
	Errors      []string          `json:"errors"`
	Details     []outcomeResponse `json:"details,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	FinishedAt  *time.Time        `json:"finishedAt,omitempty"`
}

func (h *DispatchHandler) Dispatch(c *fiber.Ctx) error {
	provider, recipients, campaign, err := parseDispatchRequest(c)
	if err != nil {
		return err
	}

	result, err := h.service.Dispatch(c.Context(), provider, recipients, campaign)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toDispatchResultResponse(result))
}

func (h *DispatchHandler) StartRun(c *fiber.Ctx) error {
	provider, recipients, campaign, err := parseDispatchRequest(c)
	if err != nil {
		return err
	}

	run, err := h.service.StartRun(c.Context(), provider, recipients, campaign)
	if err != nil {
		return err
	}

	c.Location("/v1/runs/" + run.ID)
	return c.Status(fiber.StatusAccepted).JSON(toRunResponse(run))
}

func (h *DispatchHandler) SendTest(c *fiber.Ctx) error {
	provider, err := domain.ParseProviderFromString(c.Params("provider"))
	if err != nil {
		return err
	}

	var req testRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.SendTest(c.Context(), provider, strings.TrimSpace(req.Address), strings.TrimSpace(req.Name))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toDispatchResultResponse(result))
}

func (h *DispatchHandler) GetRun(c *fiber.Ctx) error {
	run, err := h.service.GetRun(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toRunResponse(run))
}

func (h *DispatchHandler) GetProgress(c *fiber.Ctx) error {
	progress, err := h.service.GetProgress(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(progress)
}

func parseDispatchRequest(c *fiber.Ctx) (domain.Provider, []domain.Recipient, domain.Campaign, error) {
	provider, err := domain.ParseProviderFromString(c.Params("provider"))
	if err != nil {
		return "", nil, domain.Campaign{}, err
	}

	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return "", nil, domain.Campaign{}, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	recipients := make([]domain.Recipient, 0, len(req.Recipients))
	for i, r := range req.Recipients {
		address := strings.TrimSpace(r.Address)
		if address == "" {
			return "", nil, domain.Campaign{}, fmt.Errorf("%w: recipients[%d].address is required", domain.ErrValidation, i)
		}
		recipients = append(recipients, domain.Recipient{Address: address, Name: strings.TrimSpace(r.Name)})
	}

	campaign := domain.Campaign{
		Body:     req.Message,
		MediaURL: strings.TrimSpace(req.MediaURL),
		Subject:  strings.TrimSpace(req.Subject),
	}

	return provider, recipients, campaign, nil
}

func toOutcomeResponses(outcomes []domain.SendOutcome) []outcomeResponse {
	responses := make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		responses = append(responses, outcomeResponse{
			Address:           o.Recipient.Address,
			Name:              o.Recipient.Name,
			Status:            o.Status.String(),
			ProviderMessageID: o.ProviderMessageID,
			ErrorReason:       o.ErrorReason,
			ErrorCode:         o.ErrorCode,
		})
	}
	return responses
}

func toDispatchResultResponse(result domain.DispatchResult) dispatchResultResponse {
	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}

	return dispatchResultResponse{
		Provider:    result.Provider.String(),
		Status:      result.RunStatus().String(),
		SentCount:   result.SentCount,
		FailedCount: result.FailedCount,
		Errors:      errs,
		Details:     toOutcomeResponses(result.Details),
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
	}
}

func toRunResponse(run *domain.DispatchRun) runResponse {
	if run == nil {
		return runResponse{}
	}

	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}

	return runResponse{
		ID:          run.ID,
		Provider:    run.Provider.String(),
		Status:      run.Status.String(),
		TotalCount:  run.TotalCount,
		SentCount:   run.SentCount,
		FailedCount: run.FailedCount,
		Errors:      errs,
		Details:     toOutcomeResponses(run.Outcomes),
		CreatedAt:   run.CreatedAt,
		FinishedAt:  run.FinishedAt,
	}
}
