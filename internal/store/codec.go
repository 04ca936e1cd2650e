package store

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
)

func encodeLeadData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	return b, eris.Wrap(err, "marshal lead_data")
}

func decodeLeadData(b []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(b) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, eris.Wrap(err, "unmarshal lead_data")
	}
	return data, nil
}

// encodeAnalysis returns nil for a nil analysis so the column stays NULL.
func encodeAnalysis(a *model.AIAnalysis) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	return b, eris.Wrap(err, "marshal ai_analysis")
}

func decodeAnalysis(b []byte) (*model.AIAnalysis, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var a model.AIAnalysis
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, eris.Wrap(err, "unmarshal ai_analysis")
	}
	return &a, nil
}

func sortRetries(entries []resilience.ScoreRetry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].NextRetryAt.Before(entries[j].NextRetryAt)
	})
}
