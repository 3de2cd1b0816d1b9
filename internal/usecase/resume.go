package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"coingate/internal/domain/entity"
	"coingate/internal/domain/repository"
)

const (
	ResumeMarker    = "RESUME_FEEDBACK:"
	FeatureResume   = "resume_feedback"
	ProviderCache   = "cache"
	defaultIndustry = "general"
)

const resumeInstruction = `You are an experienced recruiter reviewing a resume for the %s industry.
Give specific, actionable feedback. If a job description is provided, compare the resume against it.
Write a short overview, then on a new line the exact text ` + ResumeMarker + ` followed by a single JSON object:
{"overallScore": number 0-100, "summary": string, "strengths": [string], "improvements": [string], "missingKeywords": [string]}`

const resumeFollowUpInstruction = `You are an experienced recruiter helping the user improve their resume for the %s industry.
Answer follow-up questions concisely and concretely. Do not produce JSON.`

type ResumeConfig struct {
	Cost           int64
	MaxTokens      int
	Temperature    float32
	AttemptTimeout time.Duration
}

type ResumeRequest struct {
	ResumeText         string
	JobDescription     string
	Messages           []entity.ConversationMessage
	IndustryPreference string
	UserID             string
	Token              string
	ClientKey          string
	IdempotencyKey     string
}

type ResumeResponse struct {
	Feedback          any     `json:"feedback"`
	IsInitialAnalysis bool    `json:"isInitialAnalysis"`
	ProviderInfo      string  `json:"providerInfo"`
	Degraded          bool    `json:"degraded,omitempty"`
	Blocked           bool    `json:"blocked,omitempty"`
	Charge            *Charge `json:"-"`
}

// ResumeService reviews resumes. Every call needs a verified identity; the
// initial analysis is metered, follow-up questions are not.
type ResumeService struct {
	sanitizer    *Sanitizer
	guard        *TrafficGuard
	orchestrator *FallbackOrchestrator
	extractor    *ResponseExtractor
	ledger       *Ledger
	identity     repository.IdentityVerifier
	cache        *SemanticCache
	cfg          ResumeConfig
	logger       *slog.Logger
}

func NewResumeService(s *Sanitizer, g *TrafficGuard, o *FallbackOrchestrator, l *Ledger, iv repository.IdentityVerifier, cache *SemanticCache, cfg ResumeConfig, logger *slog.Logger) *ResumeService {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeService{
		sanitizer:    s,
		guard:        g,
		orchestrator: o,
		extractor:    NewResponseExtractor(ResumeMarker, resumeFallback),
		ledger:       l,
		identity:     iv,
		cache:        cache,
		cfg:          cfg,
		logger:       logger,
	}
}

func (r *ResumeService) Feedback(ctx context.Context, req ResumeRequest) (*ResumeResponse, error) {
	if err := r.authorize(ctx, req); err != nil {
		return nil, err
	}
	if err := r.guard.Admit(ctx, req.UserID); err != nil {
		return nil, err
	}
	// First verified contact opens the coin account.
	if r.ledger != nil {
		if _, err := r.ledger.EnsureAccount(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	industry := strings.TrimSpace(req.IndustryPreference)
	if industry == "" {
		industry = defaultIndustry
	}

	if strings.TrimSpace(req.ResumeText) != "" && len(req.Messages) == 0 {
		return r.analyze(ctx, req, industry)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: resumeText or messages is required", entity.ErrInvalidInput)
	}
	return r.followUp(ctx, req, industry)
}

func (r *ResumeService) authorize(ctx context.Context, req ResumeRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: userId is required", entity.ErrUnauthenticated)
	}
	if r.identity == nil || req.Token == "" {
		return fmt.Errorf("%w: identity token is required", entity.ErrUnauthenticated)
	}
	id, err := r.identity.Verify(ctx, req.Token)
	if err != nil {
		return err
	}
	if id.UserID != req.UserID {
		return fmt.Errorf("%w: token does not belong to user", entity.ErrUnauthenticated)
	}
	if !id.EmailVerified {
		return entity.ErrEmailNotVerified
	}
	return nil
}

func (r *ResumeService) analyze(ctx context.Context, req ResumeRequest, industry string) (*ResumeResponse, error) {
	if err := r.sanitizer.ValidateText("resumeText", req.ResumeText); err != nil {
		return nil, err
	}
	if err := r.sanitizer.ValidateText("jobDescription", req.JobDescription); err != nil {
		return nil, err
	}

	metered := r.cfg.Cost > 0 && r.ledger != nil
	if metered {
		if err := precheck(ctx, r.ledger, req.UserID, r.cfg.Cost); err != nil {
			return nil, err
		}
	}

	prompt := "Resume:\n" + strings.TrimSpace(req.ResumeText)
	if jd := strings.TrimSpace(req.JobDescription); jd != "" {
		prompt += "\n\nJob description:\n" + jd
	}

	resp := &ResumeResponse{IsInitialAnalysis: true}
	filters := map[string]string{"feature": FeatureResume, "industry": industry}
	cached, vector, hit := r.cache.Lookup(ctx, prompt, filters)
	var data map[string]any
	if hit && json.Unmarshal([]byte(cached), &data) == nil && data != nil {
		resp.Feedback = data
		resp.ProviderInfo = ProviderCache
	} else {
		completion, err := r.orchestrator.Execute(ctx, entity.ProviderRequest{
			Messages:          []entity.ConversationMessage{{Role: entity.RoleUser, Content: prompt}},
			SystemInstruction: fmt.Sprintf(resumeInstruction, industry),
			MaxTokens:         r.cfg.MaxTokens,
			Temperature:       r.cfg.Temperature,
			Timeout:           r.cfg.AttemptTimeout,
		})
		if err != nil {
			return nil, err
		}
		payload := r.extractor.Extract(completion.Text)
		resp.Feedback = payload.Data
		resp.Degraded = payload.Degraded
		resp.ProviderInfo = completion.ProviderID
		if !payload.Degraded {
			if b, err := json.Marshal(payload.Data); err == nil {
				r.cache.Store(prompt, string(b), vector, map[string]any{"feature": FeatureResume, "industry": industry})
			}
		}
	}

	if metered && !resp.Degraded {
		c, err := charge(ctx, r.ledger, req.UserID, r.cfg.Cost, FeatureResume, resp.ProviderInfo, "resume analysis ("+industry+")", req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		resp.Charge = c
	}
	return resp, nil
}

func (r *ResumeService) followUp(ctx context.Context, req ResumeRequest, industry string) (*ResumeResponse, error) {
	if err := r.sanitizer.Validate(req.Messages); err != nil {
		return nil, err
	}
	state := r.sanitizer.State(req.Messages)
	if err := r.guard.Inspect(req.UserID, state); err != nil {
		return nil, err
	}
	latest, ok := lastUserMessage(req.Messages)
	if !ok {
		return nil, fmt.Errorf("%w: transcript has no user message", entity.ErrInvalidInput)
	}
	if c := r.sanitizer.Classify(latest); c.Blocked {
		r.logger.Warn("blocked resume message", "user_id", req.UserID, "reason", c.Reason)
		return &ResumeResponse{
			Feedback:     "I can only help with improving your resume. What would you like to work on?",
			ProviderInfo: "none",
			Blocked:      true,
		}, nil
	}

	instruction := fmt.Sprintf(resumeFollowUpInstruction, industry)
	if rt := strings.TrimSpace(req.ResumeText); rt != "" {
		if err := r.sanitizer.ValidateText("resumeText", rt); err != nil {
			return nil, err
		}
		instruction += "\n\nThe user's resume:\n" + rt
	}

	completion, err := r.orchestrator.Execute(ctx, entity.ProviderRequest{
		Messages:          req.Messages,
		SystemInstruction: instruction,
		MaxTokens:         r.cfg.MaxTokens,
		Temperature:       r.cfg.Temperature,
		Timeout:           r.cfg.AttemptTimeout,
	})
	if err != nil {
		return nil, err
	}

	// A model that answers with a structured block anyway still gets parsed.
	if r.extractor.HasMarker(completion.Text) {
		payload := r.extractor.Extract(completion.Text)
		if !payload.Degraded {
			return &ResumeResponse{Feedback: payload.Data, ProviderInfo: completion.ProviderID}, nil
		}
		return &ResumeResponse{Feedback: r.extractor.Prose(completion.Text), ProviderInfo: completion.ProviderID}, nil
	}
	return &ResumeResponse{Feedback: strings.TrimSpace(completion.Text), ProviderInfo: completion.ProviderID}, nil
}

func resumeFallback(string) map[string]any {
	return toMap(entity.ResumeFeedback{
		OverallScore: 60,
		Summary:      "We couldn't produce a detailed review this time. Here are improvements that help most resumes.",
		Strengths:    []string{"Resume submitted for review"},
		Improvements: []string{
			"Start each bullet with a strong action verb",
			"Quantify achievements with numbers where possible",
			"Tailor the skills section to the target role",
			"Keep formatting consistent and the length to one or two pages",
		},
		Keywords: []string{},
	})
}
