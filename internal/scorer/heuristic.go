package scorer

import (
	"fmt"
	"strings"

	"github.com/sells-group/lead-intake/internal/model"
)

const (
	heuristicBase    = 50
	longTextMinChars = 50
	longTextBonus    = 5
	longTextCap      = 15
)

// contactKeys are excluded from the long-text bonus.
var contactKeys = map[string]bool{
	"full_name":    true,
	"first_name":   true,
	"last_name":    true,
	"name":         true,
	"phone_number": true,
	"phone":        true,
	"email":        true,
}

var heuristicSignals = []struct {
	keys   []string
	points int
}{
	{[]string{"full_name", "first_name", "name"}, 10},
	{[]string{"phone_number", "phone"}, 15},
	{[]string{"email"}, 15},
	{[]string{"budget"}, 10},
	{[]string{"timeline"}, 10},
	{[]string{"location"}, 5},
}

// Heuristic scores lead data without the AI provider. It is
// deterministic: 50 base plus points for each recognized signal, clamped
// to [0, 100], with intent always warm.
func Heuristic(leadData map[string]any) model.Score {
	score := heuristicBase
	for _, sig := range heuristicSignals {
		for _, k := range sig.keys {
			if text(leadData[k]) != "" {
				score += sig.points
				break
			}
		}
	}

	bonus := 0
	for k, v := range leadData {
		if contactKeys[k] {
			continue
		}
		if len([]rune(text(v))) > longTextMinChars {
			bonus += longTextBonus
		}
	}
	if bonus > longTextCap {
		bonus = longTextCap
	}

	return model.Score{
		QualityScore:    model.ClampScore(score + bonus),
		Intent:          model.IntentWarm,
		Reasoning:       model.FallbackReasoning,
		Insights:        []string{},
		Recommendations: []string{},
		Method:          model.ScoreMethodHeuristic,
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
