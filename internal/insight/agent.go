package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"ticker-panel/internal/correlation"
	"ticker-panel/internal/watchlist"
)

type Config struct {
	Enabled    bool
	Model      string
	APIKey     string
	BaseURL    string
	ByAzure    bool
	APIVersion string
	TimeoutMs  int
}

// Insight is a short commentary on how the watchlist moves together.
type Insight struct {
	Mode            string            `json:"mode"`
	Summary         string            `json:"summary"`
	StrongestPair   *correlation.Pair `json:"strongest_pair,omitempty"`
	WeakestPair     *correlation.Pair `json:"weakest_pair,omitempty"`
	AvgCorrelation  *float64          `json:"avg_correlation,omitempty"`
	Diversification string            `json:"diversification"`
}

type Input struct {
	Assets      []watchlist.Asset  `json:"assets"`
	Correlation correlation.Matrix `json:"correlation"`
}

func FromState(st watchlist.State) Input {
	return Input{Assets: st.Assets, Correlation: st.Correlation}
}

type Agent struct {
	enabled        bool
	model          *openai.ChatModel
	modelName      string
	disabledReason string
}

func New(cfg Config) *Agent {
	if !cfg.Enabled {
		return &Agent{enabled: false, disabledReason: "disabled by config"}
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.APIKey == "" || cfg.Model == "" {
		log.Warn().Str("component", "insight").Msg("insight agent disabled: missing api key or model")
		return &Agent{enabled: false, disabledReason: "api_key or model missing"}
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	model, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		ByAzure:    cfg.ByAzure,
		APIVersion: cfg.APIVersion,
		Timeout:    timeout,
	})
	if err != nil {
		log.Error().Str("component", "insight").Err(err).Msg("insight agent init failed")
		return &Agent{enabled: false, disabledReason: "init failed"}
	}

	return &Agent{enabled: true, model: model, modelName: cfg.Model}
}

func (a *Agent) Enabled() bool { return a != nil && a.enabled }

// Describe asks the model for a summary. Numeric fields always come from
// Fallback; the model only rewrites the summary text.
func (a *Agent) Describe(ctx context.Context, in Input) (Insight, error) {
	base := Fallback(in)
	if !a.Enabled() || a.model == nil || in.Correlation.Len() < 2 {
		return base, nil
	}

	payload, err := json.Marshal(struct {
		Input
		Stats Insight `json:"stats"`
	}{in, base})
	if err != nil {
		return base, fmt.Errorf("marshal input: %w", err)
	}

	system := `You comment on a crypto watchlist. Output ONLY valid JSON: {"summary": string}.
The summary is at most three sentences about how the tracked assets move together, based on the correlation matrix and stats.
Null coefficients mean there is not enough data. Do not give trading advice.`

	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(fmt.Sprintf("Input: %s", string(payload))),
	}

	resp, err := a.model.Generate(ctx, messages)
	if err != nil {
		logLLMError(err)
		return base, err
	}
	summary, err := parseSummary(strings.TrimSpace(resp.Content))
	if err != nil {
		return base, err
	}
	base.Mode = "llm"
	base.Summary = summary
	return base, nil
}

// Fallback summarises the matrix without a model.
func Fallback(in Input) Insight {
	out := Insight{Mode: "fallback", Diversification: "unknown"}
	if in.Correlation.Len() < 2 {
		out.Summary = "Add 2 or more tickers to see correlations."
		return out
	}
	pairs := in.Correlation.Pairs()
	if len(pairs) == 0 {
		out.Summary = "Not enough price history to correlate the tracked assets yet."
		return out
	}

	strongest := pairs[0]
	weakest := pairs[len(pairs)-1]
	var sum float64
	for _, p := range pairs {
		sum += p.Coef
	}
	avg := sum / float64(len(pairs))
	out.StrongestPair = &strongest
	out.WeakestPair = &weakest
	out.AvgCorrelation = &avg
	out.Diversification = Diversification(avg)
	out.Summary = fmt.Sprintf("%s and %s move most closely (%.2f); %s and %s least (%.2f). Average pairwise correlation is %.2f, the list looks %s.",
		strongest.A, strongest.B, strongest.Coef,
		weakest.A, weakest.B, weakest.Coef,
		avg, out.Diversification)
	return out
}

func Diversification(avg float64) string {
	switch {
	case math.IsNaN(avg):
		return "unknown"
	case avg >= 0.7:
		return "concentrated"
	case avg < 0.3:
		return "diversified"
	default:
		return "mixed"
	}
}

func Ping(a *Agent, ctx context.Context) (map[string]any, error) {
	if !a.Enabled() || a.model == nil {
		reason := "not configured"
		if a != nil && a.disabledReason != "" {
			reason = a.disabledReason
		}
		return map[string]any{"ok": true, "mode": "fallback", "reason": reason}, nil
	}
	start := time.Now()
	messages := []*schema.Message{
		schema.SystemMessage("Return ONLY valid JSON: {\"ok\":true}."),
		schema.UserMessage("ping"),
	}
	_, err := a.model.Generate(ctx, messages)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		logLLMError(err)
		return map[string]any{"ok": true, "mode": "fallback", "reason": "llm error"}, err
	}
	return map[string]any{"ok": true, "mode": "llm", "model": a.modelName, "latency_ms": latency}, nil
}

func parseSummary(text string) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		jsonStr := extractFirstJSONObject(text)
		if jsonStr == "" {
			return "", fmt.Errorf("no json object found")
		}
		if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
			return "", fmt.Errorf("parse summary: %w", err)
		}
	}
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		return "", fmt.Errorf("empty summary")
	}
	return out.Summary, nil
}

func extractFirstJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func logLLMError(err error) {
	apiErr := &openai.APIError{}
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if len(msg) > 300 {
			msg = msg[:300] + "..."
		}
		log.Warn().Str("component", "insight").Int("status", apiErr.HTTPStatusCode).Str("message", msg).Msg("llm api error")
		return
	}
	log.Warn().Str("component", "insight").Err(err).Msg("llm error")
}
