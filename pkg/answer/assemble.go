// Package answer turns retrieved evidence into a grounded, structured answer.
// The completion service is behind the Completer interface; parsing its
// output is the pure function Assemble.
package answer

import (
	"strings"

	"github.com/perbu/policyrag/pkg/policyrag"
)

// Section markers the completion is asked to produce. Matched literally and
// case-sensitively.
const (
	DecisionMarker    = "Decision:"
	ExplanationMarker = "Explanation:"
)

// Texts substituted for a missing section.
const (
	FallbackDecision    = "Cannot determine from the available policy."
	FallbackExplanation = "The policy text does not clearly define this scenario."
)

// Assemble extracts the decision and explanation from a raw completion.
// The decision runs from the first DecisionMarker to the next
// ExplanationMarker or the end of the text. The explanation is everything
// after the first ExplanationMarker. A missing marker yields the fallback
// text for its field. Assemble never fails.
func Assemble(raw string) policyrag.StructuredAnswer {
	ans := policyrag.StructuredAnswer{
		Decision:    FallbackDecision,
		Explanation: FallbackExplanation,
	}
	if _, after, ok := strings.Cut(raw, DecisionMarker); ok {
		decision, _, _ := strings.Cut(after, ExplanationMarker)
		ans.Decision = strings.TrimSpace(decision)
	}
	if _, after, ok := strings.Cut(raw, ExplanationMarker); ok {
		ans.Explanation = strings.TrimSpace(after)
	}
	return ans
}
