package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"coingate/internal/domain/entity"
)

type Classification struct {
	Blocked    bool   `json:"blocked"`
	Irrelevant bool   `json:"irrelevant"`
	Reason     string `json:"reason,omitempty"`
}

// ConversationState is derived from the transcript on every request.
type ConversationState struct {
	QuestionCount   int
	IrrelevantCount int
	BlockedCount    int
}

type SanitizerLimits struct {
	MaxMessages     int
	MaxMessageChars int
}

type attackPattern struct {
	name string
	re   *regexp.Regexp
}

var attackPatterns = []attackPattern{
	{"script tag", regexp.MustCompile(`(?i)<\s*/?\s*script\b`)},
	{"iframe tag", regexp.MustCompile(`(?i)<\s*/?\s*iframe\b`)},
	{"javascript uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"data uri", regexp.MustCompile(`(?i)data\s*:\s*text/html`)},
	{"event handler", regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*["']?[^\s"'>]`)},
	{"sql union", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{"sql drop", regexp.MustCompile(`(?i)\bdrop\s+table\b`)},
	{"sql delete", regexp.MustCompile(`(?i)\bdelete\s+from\b`)},
	{"instruction override", regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override)\s+(all\s+|any\s+|the\s+|your\s+)*(previous|prior|above|earlier|system)\s+(instructions|prompts?|rules|messages)\b`)},
	{"instruction override", regexp.MustCompile(`(?i)\b(reveal|show|print|repeat)\s+(me\s+)?(your|the)\s+(system\s+prompt|instructions)\b`)},
	{"role hijack", regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|in)\b`)},
	{"role hijack", regexp.MustCompile(`(?i)\b(pretend\s+to\s+be|act\s+as\s+if\s+you\s+have\s+no)\b`)},
	{"jailbreak", regexp.MustCompile(`(?i)\b(jailbreak|dan\s+mode|developer\s+mode)\b`)},
}

var fillerWords = map[string]bool{
	"ok": true, "okay": true, "k": true, "kk": true, "hmm": true, "hm": true,
	"umm": true, "um": true, "uh": true, "lol": true, "lmao": true, "idk": true,
	"whatever": true, "nothing": true, "meh": true, "nah": true, "sure": true,
	"test": true, "testing": true, "asdf": true, "blah": true, "hi": true, "hey": true,
}

var keyboardMash = []string{"qwerty", "asdfgh", "zxcvb", "qwertyuiop", "asdfghjkl", "zxcvbnm", "jkjk", "hjkl"}

// Sanitizer classifies user input before it reaches a provider.
// All methods are pure.
type Sanitizer struct {
	limits SanitizerLimits
}

func NewSanitizer(limits SanitizerLimits) *Sanitizer {
	if limits.MaxMessages <= 0 {
		limits.MaxMessages = 50
	}
	if limits.MaxMessageChars <= 0 {
		limits.MaxMessageChars = 4000
	}
	return &Sanitizer{limits: limits}
}

func (s *Sanitizer) Classify(message string) Classification {
	for _, p := range attackPatterns {
		if p.re.MatchString(message) {
			return Classification{Blocked: true, Reason: p.name}
		}
	}
	if reason, ok := irrelevance(message); ok {
		return Classification{Irrelevant: true, Reason: reason}
	}
	return Classification{}
}

// Validate enforces transcript shape. Errors wrap entity.ErrInvalidInput.
func (s *Sanitizer) Validate(messages []entity.ConversationMessage) error {
	if messages == nil {
		return fmt.Errorf("%w: messages must be an array", entity.ErrInvalidInput)
	}
	if len(messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", entity.ErrInvalidInput)
	}
	if len(messages) > s.limits.MaxMessages {
		return fmt.Errorf("%w: too many messages (%d > %d)", entity.ErrInvalidInput, len(messages), s.limits.MaxMessages)
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: message %d has invalid role %q", entity.ErrInvalidInput, i, m.Role)
		}
		if n := len([]rune(m.Content)); n > s.limits.MaxMessageChars {
			return fmt.Errorf("%w: message %d too long (%d > %d chars)", entity.ErrInvalidInput, i, n, s.limits.MaxMessageChars)
		}
	}
	return nil
}

func (s *Sanitizer) ValidateText(field, text string) error {
	if n := len([]rune(text)); n > s.limits.MaxMessageChars*4 {
		return fmt.Errorf("%w: %s too long (%d chars)", entity.ErrInvalidInput, field, n)
	}
	if c := s.Classify(text); c.Blocked {
		return fmt.Errorf("%w: %s contains disallowed content (%s)", entity.ErrInvalidInput, field, c.Reason)
	}
	return nil
}

func (s *Sanitizer) State(messages []entity.ConversationMessage) ConversationState {
	var st ConversationState
	for _, m := range messages {
		switch m.Role {
		case entity.RoleAssistant:
			st.QuestionCount++
		case entity.RoleUser:
			c := s.Classify(m.Content)
			if c.Blocked {
				st.BlockedCount++
			} else if c.Irrelevant {
				st.IrrelevantCount++
			}
		}
	}
	return st
}

func irrelevance(message string) (string, bool) {
	text := strings.ToLower(strings.TrimSpace(message))
	if len([]rune(text)) < 3 {
		return "too short", true
	}
	if fillerWords[strings.Trim(text, ".!?, ")] {
		return "filler", true
	}
	compact := strings.ReplaceAll(text, " ", "")
	for _, mash := range keyboardMash {
		if strings.Contains(compact, mash) {
			return "keyboard mash", true
		}
	}
	if repeatedRun(compact, 5) {
		return "repeated characters", true
	}
	if !strings.ContainsFunc(text, unicode.IsLetter) {
		return "no words", true
	}
	return "", false
}

// repeatedRun reports whether s holds n or more consecutive identical runes.
func repeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= n {
			return true
		}
	}
	return false
}
