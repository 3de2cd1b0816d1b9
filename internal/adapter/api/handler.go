package api

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"coingate/internal/adapter/document"
	"coingate/internal/domain/entity"
	"coingate/internal/domain/repository"
	"coingate/internal/usecase"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	discover     *usecase.DiscoverService
	resume       *usecase.ResumeService
	ledger       *usecase.Ledger
	identity     repository.IdentityVerifier
	orchestrator *usecase.FallbackOrchestrator
	production   bool
	logger       *slog.Logger
}

type HandlerDeps struct {
	Discover     *usecase.DiscoverService
	Resume       *usecase.ResumeService
	Ledger       *usecase.Ledger
	Identity     repository.IdentityVerifier
	Orchestrator *usecase.FallbackOrchestrator
	Production   bool
	Logger       *slog.Logger
}

func NewHandler(d HandlerDeps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		discover:     d.Discover,
		resume:       d.Resume,
		ledger:       d.Ledger,
		identity:     d.Identity,
		orchestrator: d.Orchestrator,
		production:   d.Production,
		logger:       logger,
	}
}

type discoverBody struct {
	Messages []entity.ConversationMessage `json:"messages"`
	UserID   string                       `json:"userId"`
}

func (h *Handler) HandleDiscoverChat(c *fiber.Ctx) error {
	var body discoverBody
	if err := c.BodyParser(&body); err != nil {
		return h.fail(c, fmt.Errorf("%w: invalid request body", entity.ErrInvalidInput))
	}

	// Naming a user spends their coins, so the caller must be that user.
	userID := strings.TrimSpace(body.UserID)
	if userID != "" {
		if err := h.authenticate(c, userID); err != nil {
			return h.fail(c, err)
		}
	}

	resp, err := h.discover.Chat(c.UserContext(), usecase.DiscoverRequest{
		Messages:       body.Messages,
		UserID:         userID,
		ClientKey:      c.IP(),
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		return h.fail(c, err)
	}

	out := fiber.Map{}
	for k, v := range resp.Payload {
		out[k] = v
	}
	out["isComplete"] = resp.IsComplete
	if resp.Reply != "" {
		out["reply"] = resp.Reply
	}
	if resp.Blocked {
		out["blocked"] = true
	}
	if resp.Warning != "" {
		out["warning"] = resp.Warning
	}
	if resp.Degraded {
		out["degraded"] = true
	}
	if resp.Provider != "" {
		out["providerInfo"] = resp.Provider
	}
	if resp.Charge != nil {
		out["coinsCharged"] = resp.Charge.Amount
		out["balance"] = resp.Charge.Balance
	}
	return c.Status(fiber.StatusOK).JSON(out)
}

type resumeBody struct {
	ResumeText         string                       `json:"resumeText" form:"resumeText"`
	JobDescription     string                       `json:"jobDescription" form:"jobDescription"`
	Messages           []entity.ConversationMessage `json:"messages" form:"-"`
	IndustryPreference string                       `json:"industryPreference" form:"industryPreference"`
	UserID             string                       `json:"userId" form:"userId"`
}

func (h *Handler) HandleResumeFeedback(c *fiber.Ctx) error {
	var body resumeBody
	if err := c.BodyParser(&body); err != nil {
		return h.fail(c, fmt.Errorf("%w: invalid request body", entity.ErrInvalidInput))
	}

	if fh, err := c.FormFile("resume"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return h.fail(c, fmt.Errorf("%w: unreadable upload", entity.ErrInvalidInput))
		}
		data, err := io.ReadAll(io.LimitReader(f, document.MaxPDFBytes+1))
		f.Close()
		if err != nil {
			return h.fail(c, fmt.Errorf("%w: unreadable upload", entity.ErrInvalidInput))
		}
		text, err := document.PDFText(data)
		if err != nil {
			return h.fail(c, fmt.Errorf("%w: %v", entity.ErrInvalidInput, err))
		}
		body.ResumeText = text
	}

	resp, err := h.resume.Feedback(c.UserContext(), usecase.ResumeRequest{
		ResumeText:         body.ResumeText,
		JobDescription:     body.JobDescription,
		Messages:           body.Messages,
		IndustryPreference: body.IndustryPreference,
		UserID:             strings.TrimSpace(body.UserID),
		Token:              bearerToken(c),
		ClientKey:          c.IP(),
		IdempotencyKey:     c.Get("Idempotency-Key"),
	})
	if err != nil {
		return h.fail(c, err)
	}

	out := fiber.Map{
		"feedback":          resp.Feedback,
		"isInitialAnalysis": resp.IsInitialAnalysis,
		"providerInfo":      resp.ProviderInfo,
	}
	if resp.Degraded {
		out["degraded"] = true
	}
	if resp.Blocked {
		out["blocked"] = true
	}
	if resp.Charge != nil {
		out["coinsCharged"] = resp.Charge.Amount
		out["balance"] = resp.Charge.Balance
	}
	return c.Status(fiber.StatusOK).JSON(out)
}

func (h *Handler) HandleBalance(c *fiber.Ctx) error {
	userID, err := h.owner(c)
	if err != nil {
		return h.fail(c, err)
	}
	balance, err := h.ledger.GetBalance(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"userId": userID, "balance": balance})
}

func (h *Handler) HandleHistory(c *fiber.Ctx) error {
	userID, err := h.owner(c)
	if err != nil {
		return h.fail(c, err)
	}
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		return h.fail(c, fmt.Errorf("%w: limit must be between 1 and 200", entity.ErrInvalidInput))
	}
	txns, err := h.ledger.History(c.UserContext(), userID, limit)
	if err != nil {
		return h.fail(c, err)
	}
	if txns == nil {
		txns = []entity.CoinTransaction{}
	}
	return c.JSON(fiber.Map{"userId": userID, "transactions": txns})
}

func (h *Handler) HandleUsage(c *fiber.Ctx) error {
	userID, err := h.owner(c)
	if err != nil {
		return h.fail(c, err)
	}
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		return h.fail(c, fmt.Errorf("%w: limit must be between 1 and 200", entity.ErrInvalidInput))
	}
	recs, err := h.ledger.Usage(c.UserContext(), userID, limit)
	if err != nil {
		return h.fail(c, err)
	}
	if recs == nil {
		recs = []entity.UsageRecord{}
	}
	return c.JSON(fiber.Map{"userId": userID, "usage": recs})
}

func (h *Handler) HandleStats(c *fiber.Ctx) error {
	userID, err := h.owner(c)
	if err != nil {
		return h.fail(c, err)
	}
	stats, err := h.ledger.Statistics(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(stats)
}

// owner resolves :userId and checks the bearer token belongs to it.
func (h *Handler) owner(c *fiber.Ctx) (string, error) {
	userID := c.Params("userId")
	if err := h.authenticate(c, userID); err != nil {
		return "", err
	}
	return userID, nil
}

// authenticate checks that the bearer token was issued to userID.
func (h *Handler) authenticate(c *fiber.Ctx, userID string) error {
	token := bearerToken(c)
	if h.identity == nil || token == "" {
		return entity.ErrUnauthenticated
	}
	id, err := h.identity.Verify(c.UserContext(), token)
	if err != nil {
		return err
	}
	if id.UserID != userID {
		return fmt.Errorf("%w: token does not belong to user", entity.ErrUnauthenticated)
	}
	return nil
}

func bearerToken(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
