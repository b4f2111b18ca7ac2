package answer

import (
	"fmt"
	"strings"
)

// SystemPrompt instructs the model to answer only from the policy context and
// in the Decision/Explanation format Assemble parses.
const SystemPrompt = `You are SureClaim AI, an enterprise insurance policy copilot.

STRICT RULES:
- Use ONLY the provided policy context.
- DO NOT invent facts.
- DO NOT ask new questions.
- If coverage depends on conditions, EXPLAIN the conditions.
- Only say "Cannot determine" if the policy text truly provides no guidance.

RESPONSE FORMAT (MANDATORY):

Decision:
One clear sentence (Yes / No / Conditional)

Explanation:
- Bullet points in plain English
- Summarize rules and conditions
- NO citations inside text
`

// UserMessage combines the retrieved context with the question.
func UserMessage(context, question string) string {
	return fmt.Sprintf("Policy Context:\n%s\n\nQuestion:\n%s\n", context, question)
}

// CitedPages renders citations as "Page 1, Page 3".
func CitedPages(citations []int) string {
	parts := make([]string, len(citations))
	for i, p := range citations {
		parts[i] = fmt.Sprintf("Page %d", p)
	}
	return strings.Join(parts, ", ")
}

// AuditTrail returns one provenance line per cited page.
func AuditTrail(citations []int) []string {
	lines := make([]string, len(citations))
	for i, p := range citations {
		lines[i] = fmt.Sprintf("Policy Document – Page %d", p)
	}
	return lines
}
