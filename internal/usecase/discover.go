package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"coingate/internal/domain/entity"
)

const (
	DiscoverMarker  = "CAREER_SUGGESTIONS:"
	FeatureDiscover = "discover"
)

const discoverInstruction = `You are a friendly career discovery guide. Ask the user one short question at a time about their interests, skills, experience and goals.
Once you understand them well enough, write a brief closing message and then, on a new line, the exact text ` + DiscoverMarker + ` followed by a single JSON object:
{"summary": string, "suggestions": [{"title": string, "description": string, "skills": [string], "nextSteps": [string], "matchScore": number}]}
Emit the marker at most once, only at the very end. Stay on the topic of careers.`

const (
	blockedReply  = "I can only help with exploring career paths. Could you tell me more about your interests or experience?"
	refocusReply  = "It looks like we've drifted off track. To suggest careers that fit you, I need real answers. What kind of work do you enjoy most?"
	warningNotice = "Your last answer didn't give me much to work with. More detail leads to better suggestions."
)

type DiscoverConfig struct {
	Cost            int64
	CompletionAfter int // questions asked before a result may be charged for
	ForceAfter      int // questions asked before the model must conclude
	MaxIrrelevant   int
	MaxTokens       int
	Temperature     float32
	AttemptTimeout  time.Duration
}

type DiscoverRequest struct {
	Messages       []entity.ConversationMessage
	UserID         string
	ClientKey      string
	IdempotencyKey string
}

type DiscoverResponse struct {
	IsComplete bool           `json:"isComplete"`
	Reply      string         `json:"reply,omitempty"`
	Blocked    bool           `json:"blocked,omitempty"`
	Warning    string         `json:"warning,omitempty"`
	Degraded   bool           `json:"degraded,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Payload    map[string]any `json:"-"`
	Charge     *Charge        `json:"-"`
}

// DiscoverService runs the career discovery chat: sanitize, orchestrate,
// extract, meter.
type DiscoverService struct {
	sanitizer    *Sanitizer
	guard        *TrafficGuard
	orchestrator *FallbackOrchestrator
	extractor    *ResponseExtractor
	ledger       *Ledger
	cfg          DiscoverConfig
	logger       *slog.Logger
}

func NewDiscoverService(s *Sanitizer, g *TrafficGuard, o *FallbackOrchestrator, l *Ledger, cfg DiscoverConfig, logger *slog.Logger) *DiscoverService {
	if cfg.CompletionAfter <= 0 {
		cfg.CompletionAfter = 5
	}
	if cfg.ForceAfter <= 0 {
		cfg.ForceAfter = 8
	}
	if cfg.MaxIrrelevant <= 0 {
		cfg.MaxIrrelevant = 4
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoverService{
		sanitizer:    s,
		guard:        g,
		orchestrator: o,
		extractor:    NewResponseExtractor(DiscoverMarker, careerFallback),
		ledger:       l,
		cfg:          cfg,
		logger:       logger,
	}
}

func (d *DiscoverService) Chat(ctx context.Context, req DiscoverRequest) (*DiscoverResponse, error) {
	if err := d.sanitizer.Validate(req.Messages); err != nil {
		return nil, err
	}
	key := req.UserID
	if key == "" {
		key = req.ClientKey
	}
	if err := d.guard.Admit(ctx, key); err != nil {
		return nil, err
	}

	state := d.sanitizer.State(req.Messages)
	if err := d.guard.Inspect(key, state); err != nil {
		return nil, err
	}

	latest, ok := lastUserMessage(req.Messages)
	if !ok {
		return nil, fmt.Errorf("%w: transcript has no user message", entity.ErrInvalidInput)
	}
	class := d.sanitizer.Classify(latest)
	if class.Blocked {
		d.logger.Warn("blocked discover message", "user_id", req.UserID, "reason", class.Reason)
		return &DiscoverResponse{Reply: blockedReply, Blocked: true}, nil
	}

	resp := &DiscoverResponse{}
	var notes []string
	if class.Irrelevant {
		if state.IrrelevantCount >= d.cfg.MaxIrrelevant {
			return &DiscoverResponse{Reply: refocusReply, Warning: warningNotice}, nil
		}
		resp.Warning = warningNotice
		notes = append(notes, "The user's last answer was vague or off-topic. Gently ask for more detail.")
	}
	eligible := state.QuestionCount >= d.cfg.CompletionAfter
	switch {
	case state.QuestionCount >= d.cfg.ForceAfter:
		notes = append(notes, "You have asked enough questions. Conclude now and emit the marker with the JSON payload.")
	case !eligible:
		notes = append(notes, "Do not conclude yet. Ask your next question and do not emit the marker.")
	}

	metered := req.UserID != "" && d.cfg.Cost > 0 && d.ledger != nil
	if metered && eligible {
		if err := precheck(ctx, d.ledger, req.UserID, d.cfg.Cost); err != nil {
			return nil, err
		}
	}

	completion, err := d.orchestrator.Execute(ctx, entity.ProviderRequest{
		Messages:          req.Messages,
		SystemInstruction: withNotes(discoverInstruction, notes),
		MaxTokens:         d.cfg.MaxTokens,
		Temperature:       d.cfg.Temperature,
		Timeout:           d.cfg.AttemptTimeout,
	})
	if err != nil {
		return nil, err
	}
	resp.Provider = completion.ProviderID

	if !d.extractor.HasMarker(completion.Text) {
		resp.Reply = strings.TrimSpace(completion.Text)
		return resp, nil
	}
	// Too early for a result: it was never prechecked, so it is not served.
	if !eligible {
		d.logger.Warn("premature completion ignored", "user_id", req.UserID, "questions", state.QuestionCount)
		resp.Reply = d.extractor.Prose(completion.Text)
		return resp, nil
	}

	payload := d.extractor.Extract(completion.Text)
	resp.IsComplete = true
	resp.Reply = d.extractor.Prose(completion.Text)
	resp.Payload = payload.Data
	resp.Degraded = payload.Degraded

	if metered && !payload.Degraded {
		c, err := charge(ctx, d.ledger, req.UserID, d.cfg.Cost, FeatureDiscover, completion.ProviderID, "career suggestions", req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		resp.Charge = c
	}
	return resp, nil
}

func careerFallback(string) map[string]any {
	return toMap(entity.CareerPayload{
		Summary: "We couldn't fully analyse the conversation, but these broad paths suit many profiles.",
		Suggestions: []entity.CareerSuggestion{
			{
				Title:       "Software Developer",
				Description: "Build and maintain applications across web, mobile or backend systems.",
				Skills:      []string{"programming", "problem solving", "version control"},
				NextSteps:   []string{"Complete a small portfolio project", "Learn one language in depth"},
				Match:       50,
			},
			{
				Title:       "Data Analyst",
				Description: "Turn data into insights that guide business decisions.",
				Skills:      []string{"SQL", "spreadsheets", "statistics"},
				NextSteps:   []string{"Practice SQL on public datasets", "Build a dashboard"},
				Match:       50,
			},
			{
				Title:       "Project Coordinator",
				Description: "Keep teams organised and projects on schedule.",
				Skills:      []string{"communication", "planning", "organisation"},
				NextSteps:   []string{"Learn a project management tool", "Volunteer to coordinate a team effort"},
				Match:       50,
			},
		},
	})
}

func lastUserMessage(msgs []entity.ConversationMessage) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == entity.RoleUser {
			return msgs[i].Content, true
		}
	}
	return "", false
}

func withNotes(instruction string, notes []string) string {
	if len(notes) == 0 {
		return instruction
	}
	return instruction + "\n\n" + strings.Join(notes, "\n")
}
