package entity

// CareerSuggestion is the structured result of a finished discover conversation.
type CareerSuggestion struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Skills      []string `json:"skills"`
	NextSteps   []string `json:"nextSteps"`
	Match       int      `json:"matchScore"`
}

type CareerPayload struct {
	Summary     string             `json:"summary"`
	Suggestions []CareerSuggestion `json:"suggestions"`
	Error       string             `json:"error,omitempty"`
}

type ResumeFeedback struct {
	OverallScore int      `json:"overallScore"`
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Keywords     []string `json:"missingKeywords"`
	Error        string   `json:"error,omitempty"`
}

// ExtractedPayload is always populated. Degraded is true when Data is the
// fallback object rather than parsed model output.
type ExtractedPayload struct {
	Data     map[string]any
	Degraded bool
	Error    string
}
