package answer

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/go-logr/logr"
)

// MaxSuggestions caps the number of suggested questions.
const MaxSuggestions = 4

// DefaultSuggestions is shown whenever the suggestion service fails or
// returns nothing usable.
var DefaultSuggestions = []string{
	"Is damage to a basement covered under this flood insurance policy?",
	"What items are excluded from basement coverage?",
	"What is the maximum payout limit under this policy?",
	"Does Coverage D apply to this claim?",
}

// CaseContext is the case record suggestions are tailored to.
type CaseContext struct {
	ClaimType string `yaml:"claim_type" json:"claim_type"`
	State     string `yaml:"state" json:"state"`
	Policy    string `yaml:"policy" json:"policy"`
}

func (c CaseContext) String() string {
	return fmt.Sprintf("Claim Type: %s\nState: %s\nPolicy: %s", c.ClaimType, c.State, c.Policy)
}

// Suggester proposes questions for a free-text case context.
type Suggester interface {
	Suggest(ctx context.Context, caseContext string) ([]string, error)
}

// SuggestionPrompt asks for questions only.
func SuggestionPrompt(caseContext string) string {
	return fmt.Sprintf(`Suggest %d policy-related questions an insurance agent may ask.
Rules:
- ONLY questions
- NO answers
- NO explanations

Context:
%s
`, MaxSuggestions, caseContext)
}

// CompletionSuggester asks a Completer for suggestions.
type CompletionSuggester struct {
	completer Completer
}

// NewCompletionSuggester returns a Suggester backed by c.
func NewCompletionSuggester(c Completer) *CompletionSuggester {
	return &CompletionSuggester{completer: c}
}

// Suggest returns at most MaxSuggestions questions for caseContext.
func (s *CompletionSuggester) Suggest(ctx context.Context, caseContext string) ([]string, error) {
	raw, err := s.completer.Complete(ctx, "", SuggestionPrompt(caseContext))
	if err != nil {
		return nil, err
	}
	return ParseSuggestions(raw), nil
}

var listPrefix = regexp.MustCompile(`^\d+[.)]\s*`)

// ParseSuggestions takes one question per line, dropping bullets, list
// numbering and blank lines, up to MaxSuggestions.
func ParseSuggestions(raw string) []string {
	var out []string
	for line := range strings.Lines(raw) {
		q := strings.TrimSpace(strings.Trim(line, "-• \t\r\n"))
		q = strings.TrimSpace(listPrefix.ReplaceAllString(q, ""))
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out
}

// Suggestions returns suggested questions for caseCtx, or DefaultSuggestions
// when s is nil, fails or returns nothing.
func Suggestions(ctx context.Context, s Suggester, caseCtx CaseContext, log logr.Logger) []string {
	if s == nil {
		return slices.Clone(DefaultSuggestions)
	}
	qs, err := s.Suggest(ctx, caseCtx.String())
	if err != nil {
		log.Error(err, "suggestion service failed, using defaults")
		return slices.Clone(DefaultSuggestions)
	}
	if len(qs) == 0 {
		log.Info("suggestion service returned nothing, using defaults")
		return slices.Clone(DefaultSuggestions)
	}
	if len(qs) > MaxSuggestions {
		qs = qs[:MaxSuggestions]
	}
	return qs
}
