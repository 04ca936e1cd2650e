package scorer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

const systemPrompt = `You are a lead qualification analyst for a lead-generation agency.
Respond with a single JSON object and nothing else: no prose, no markdown.`

const promptTemplate = `Score this inbound lead for a %[1]s business.%[2]s

Lead data (JSON):
%[3]s

Weigh these criteria:
- Completeness of the submitted information (40%%)
- Intent signals such as budget, timeline and specific requirements (30%%)
- Contact quality: a reachable phone number or email address (20%%)
- Fit with the %[1]s industry (10%%)

Return JSON with exactly these keys:
{"quality_score": <integer 0-100>, "intent": "hot" | "warm" | "cold", "reasoning": "<one or two sentences>", "insights": ["<observation>"], "recommendations": ["<next action for the sales team>"]}`

// buildPrompt renders the user message for one lead.
func buildPrompt(leadData map[string]any, industry, hint string) (string, error) {
	data, err := json.MarshalIndent(leadData, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "scorer: marshal lead data")
	}
	industry = strings.ReplaceAll(strings.TrimSpace(industry), "_", " ")
	if industry == "" {
		industry = "general"
	}
	if hint != "" {
		hint = "\n" + hint
	}
	return fmt.Sprintf(promptTemplate, industry, hint, data), nil
}

// cleanJSON extracts a JSON object from text that may carry markdown
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
