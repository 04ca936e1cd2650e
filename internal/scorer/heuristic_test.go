package scorer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/lead-intake/internal/model"
)

func TestHeuristic(t *testing.T) {
	long := strings.Repeat("looking for a three bedroom flat near the metro ", 2)

	tests := []struct {
		name string
		data map[string]any
		want int
	}{
		{"empty", map[string]any{}, 50},
		{"nil", nil, 50},
		{"name only", map[string]any{"full_name": "Asha Rao"}, 60},
		{"first_name counts as name", map[string]any{"first_name": "Asha"}, 60},
		{"blank values ignored", map[string]any{"full_name": "  ", "email": ""}, 50},
		{"phone and email", map[string]any{"phone": "9876543210", "email": "a@b.co"}, 80},
		{"budget timeline location", map[string]any{"budget": "50L", "timeline": "soon", "location": "Pune"}, 75},
		{"city is not location", map[string]any{"city": "Pune"}, 50},
		{"name key with city", map[string]any{"city": "Pune", "name": "x"}, 60},
		{"numeric budget", map[string]any{"budget": 5000000}, 60},
		{"full lead clamps", ashaLead(), 100},
		{"one long answer", map[string]any{"requirements": long}, 55},
		{"long answers capped", map[string]any{"a": long, "b": long, "c": long, "d": long}, 65},
		{"long contact field not bonus", map[string]any{"email": long}, 65},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Heuristic(tt.data)
			assert.Equal(t, tt.want, got.QualityScore)
			assert.Equal(t, model.IntentWarm, got.Intent)
			assert.Equal(t, model.FallbackReasoning, got.Reasoning)
			assert.Equal(t, model.ScoreMethodHeuristic, got.Method)
		})
	}
}

func TestHeuristic_Deterministic(t *testing.T) {
	data := ashaLead()
	data["notes"] = strings.Repeat("x", 60)
	first := Heuristic(data)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Heuristic(data))
	}
}
