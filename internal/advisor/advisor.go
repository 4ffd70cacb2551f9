// Package advisor queries a local Ollama-compatible LLM for an optional
// second opinion on a trade. Every failure path returns no advisory so
// the rule-based decision always stands on its own.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apihttp "github.com/avolkov/papertrade/internal/platform/http"
	"github.com/avolkov/papertrade/models"
)

const retryDelay = time.Second

// Client talks to an Ollama /api/generate endpoint.
type Client struct {
	client  *apihttp.Client
	baseURL string
	model   string
	retries int
	logger  zerolog.Logger
}

// NewClient builds an advisor against the given Ollama base URL, e.g.
// http://localhost:11434. retries <= 0 means 3 attempts.
func NewClient(httpClient *apihttp.Client, baseURL, model string, retries int) *Client {
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		client:  httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		retries: retries,
		logger:  log.With().Str("component", "advisor").Logger(),
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// advisoryPayload is the JSON shape the prompt asks the model for.
type advisoryPayload struct {
	ExecutionSignals struct {
		PrimaryAction     string      `json:"primary_action"`
		Confidence        float64     `json:"confidence"`
		StopLoss          flexFloat   `json:"stop_loss"`
		TakeProfitTargets []flexFloat `json:"take_profit_targets"`
		Reasoning         []string    `json:"reasoning"`
	} `json:"execution_signals"`
	RiskAssessment struct {
		Level string `json:"level"`
	} `json:"risk_assessment"`
}

// flexFloat tolerates models that quote numeric price levels.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("not a price level: %s", string(data))
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// Analyze queries the model and maps its answer to an advisory. A nil
// advisory with nil error means no usable answer came back.
func (c *Client) Analyze(ctx context.Context, req models.AdvisoryRequest) (*models.Advisory, error) {
	prompt := buildPrompt(req)

	var raw string
	var err error
	for attempt := 1; attempt <= c.retries; attempt++ {
		raw, err = c.generate(ctx, prompt)
		if err == nil {
			break
		}
		if attempt == c.retries {
			c.logger.Error().Err(err).Int("attempts", c.retries).Msg("Advisor query failed")
			return nil, err
		}
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Advisor query failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	advisory := c.parseResponse(raw)
	if advisory == nil {
		c.logger.Warn().Str("pair", req.Pair).Msg("Unusable advisor response, falling back to rule-based decision")
	}
	return advisory, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := c.client.PostJSON(ctx, c.baseURL+"/api/generate", generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", err
	}
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding generate response: %w", err)
	}
	return resp.Response, nil
}

// parseResponse validates the model output. Malformed JSON or an
// unrecognized action yields nil.
func (c *Client) parseResponse(raw string) *models.Advisory {
	cleaned := stripCodeFence(raw)

	var payload advisoryPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to parse advisor response")
		return nil
	}

	action := strings.ToUpper(strings.TrimSpace(payload.ExecutionSignals.PrimaryAction))
	switch action {
	case models.ActionBuy, models.ActionSell, models.ActionHold:
	default:
		return nil
	}

	confidence := payload.ExecutionSignals.Confidence
	if confidence < 0 || confidence > 1 {
		return nil
	}

	advisory := &models.Advisory{
		Action:     action,
		Confidence: confidence,
		RiskLevel:  strings.ToUpper(strings.TrimSpace(payload.RiskAssessment.Level)),
	}
	if sl := float64(payload.ExecutionSignals.StopLoss); sl > 0 {
		advisory.StopLoss = sl
	}
	for _, tp := range payload.ExecutionSignals.TakeProfitTargets {
		if v := float64(tp); v > 0 {
			advisory.TakeProfit = append(advisory.TakeProfit, v)
		}
	}
	return advisory
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func buildPrompt(req models.AdvisoryRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a specialized cryptocurrency trading AI. Analyze this market data for %s and provide an immediate trading decision.\n\n", req.Pair)
	fmt.Fprintf(&b, "Market State:\nPrice: $%.4f\n24h Change: %.2f%%\n24h Volume: %.2f\n\n", req.Price, req.Change24h, req.Volume24h)

	if len(req.Readings) > 0 {
		b.WriteString("Indicator Readings:\n")
		for _, name := range orderedReadingNames(req.Readings) {
			r := req.Readings[name]
			fmt.Fprintf(&b, "- %s: value %.4f, signal %s, trend %s, reliability %.2f\n",
				name, r.Value, r.Signal, r.Trend, r.Reliability)
			for _, w := range r.Warnings {
				fmt.Fprintf(&b, "  warning: %s\n", w)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(`Provide your decision in exactly this JSON format:
{
    "execution_signals": {
        "primary_action": "BUY or SELL or HOLD",
        "confidence": 0.1 to 1.0,
        "reasoning": ["list of key decision factors"],
        "stop_loss": price level,
        "take_profit_targets": [price levels]
    },
    "risk_assessment": {
        "level": "LOW/MEDIUM/HIGH"
    }
}`)
	return b.String()
}

// orderedReadingNames keeps the prompt deterministic for a given input.
func orderedReadingNames(readings map[string]models.IndicatorReading) []string {
	known := []string{
		models.IndicatorRSI, models.IndicatorMACD, models.IndicatorBB,
		models.IndicatorEMA, models.IndicatorVolume, models.IndicatorMomentum,
	}
	var names []string
	seen := make(map[string]bool, len(readings))
	for _, name := range known {
		if _, ok := readings[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range readings {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
