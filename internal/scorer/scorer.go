// Package scorer rates inbound leads with the Anthropic Messages API and
// falls back to a deterministic heuristic whenever the model is
// unavailable or answers with something unusable.
package scorer

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-intake/internal/config"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/pkg/anthropic"
)

// ErrUnavailable is returned by ScoreAI when no client is configured or
// AI scoring is disabled.
var ErrUnavailable = eris.New("scorer: ai unavailable")

// Scorer produces a model.Score for lead data. Safe for concurrent use.
type Scorer struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration

	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	profiles *Profiles
	validate *validator.Validate
}

// New builds a Scorer. A nil client, or cfg.Disabled, makes every call use
// the heuristic. A nil profiles uses the embedded defaults.
func New(client anthropic.Client, aiCfg config.AnthropicConfig, cfg config.ScoringConfig, profiles *Profiles) *Scorer {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	if cfg.Disabled {
		client = nil
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxTokens := aiCfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	retry.ShouldRetry = isRetryable
	retry.OnRetry = resilience.RetryLogger("anthropic", "score")

	return &Scorer{
		client:      client,
		model:       aiCfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
		limiter:     rate.NewLimiter(limit, burst),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.BreakerThreshold,
			ResetTimeout:     time.Duration(cfg.BreakerResetSecs) * time.Second,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("scorer: circuit state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		retry:    retry,
		profiles: profiles,
		validate: validator.New(),
	}
}

// Score rates leadData for a tenant in industry. It never fails: any AI
// error yields the heuristic score.
func (s *Scorer) Score(ctx context.Context, leadData map[string]any, industry string) model.Score {
	score, err := s.ScoreAI(ctx, leadData, industry)
	if err == nil {
		return score
	}
	if !eris.Is(err, ErrUnavailable) {
		zap.L().Warn("scorer: ai scoring failed, using heuristic",
			zap.String("industry", industry),
			zap.Error(err),
		)
	}
	return Heuristic(leadData)
}

// ScoreAI asks the model for a score. Errors cover an unavailable or
// failing provider as well as a response that is not usable JSON.
func (s *Scorer) ScoreAI(ctx context.Context, leadData map[string]any, industry string) (model.Score, error) {
	if s.client == nil {
		return model.Score{}, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return model.Score{}, eris.Wrap(err, "scorer: rate limit wait")
	}

	prompt, err := buildPrompt(leadData, industry, s.profiles.Lookup(industry).Hint)
	if err != nil {
		return model.Score{}, err
	}
	temp := s.temperature
	req := anthropic.MessageRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	}

	resp, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return s.client.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		return model.Score{}, eris.Wrap(err, "scorer: create message")
	}
	resp.Usage.LogCost(s.model, "score")

	return s.parse(resp.Text())
}

type aiResponse struct {
	QualityScore    *float64 `json:"quality_score"`
	Intent          string   `json:"intent"`
	Reasoning       string   `json:"reasoning"`
	Insights        []string `json:"insights"`
	Recommendations []string `json:"recommendations"`
}

// parse turns the model's text into a Score. The score is rounded and
// clamped; an intent outside hot/warm/cold is derived from the score.
func (s *Scorer) parse(text string) (model.Score, error) {
	var r aiResponse
	if err := json.Unmarshal([]byte(cleanJSON(text)), &r); err != nil {
		return model.Score{}, eris.Wrap(err, "scorer: parse response")
	}
	if r.QualityScore == nil {
		return model.Score{}, eris.New("scorer: response missing quality_score")
	}

	out := model.Score{
		QualityScore:    model.ClampScore(int(math.Round(*r.QualityScore))),
		Intent:          model.Intent(strings.ToLower(strings.TrimSpace(r.Intent))),
		Reasoning:       strings.TrimSpace(r.Reasoning),
		Insights:        nonNil(r.Insights),
		Recommendations: nonNil(r.Recommendations),
		Method:          model.ScoreMethodAI,
	}
	if err := s.validate.Var(string(out.Intent), "oneof=hot warm cold"); err != nil {
		zap.L().Debug("scorer: invalid intent from model, deriving from score",
			zap.String("intent", string(out.Intent)),
			zap.Int("quality_score", out.QualityScore),
		)
		out.Intent = model.IntentFromScore(out.QualityScore)
	}
	if err := s.validate.Struct(out); err != nil {
		return model.Score{}, eris.Wrap(err, "scorer: validate score")
	}
	return out, nil
}

func isRetryable(err error) bool {
	return resilience.IsTransient(err) || resilience.IsTransientHTTPStatus(anthropic.StatusCode(err))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// PlaceholderScore is the score a new lead is stored with before the
// detached scoring run finishes.
func (s *Scorer) PlaceholderScore(industry string) int {
	return s.profiles.PlaceholderScore(industry)
}
