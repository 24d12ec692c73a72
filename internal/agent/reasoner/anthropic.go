package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ashita-ai/mamori/internal/model"
)

// Anthropic classifier defaults.
const (
	DefaultModel       = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.3

	// promptSignalLimit caps how many signals are rendered into the prompt.
	promptSignalLimit = 20
)

const systemPrompt = `You are an expert support agent for an e-commerce SaaS platform that is migrating merchants from a hosted solution to a headless architecture.

Analyze the following signals and patterns to identify the root cause of any issues.

SIGNAL CATEGORIES:
1. MIGRATION_MISSTEP: Issue started post-migration, affects specific migration batch, API/webhook configuration issues
2. PLATFORM_REGRESSION: Affects multiple merchants simultaneously, correlates with recent deployment, code-level bug
3. DOCUMENTATION_GAP: Repeated tickets with same question, correct setup but wrong expectation, missing or unclear docs
4. CONFIG_ERROR: Single merchant affected, setup deviation from standard, missing credentials or misconfiguration
5. PAYMENT_ISSUE: Stripe-related failures, payment processing errors, checkout flow problems
6. API_OUTAGE: Widespread API failures, timeouts, service unavailability

Respond in JSON format.`

const responseShape = `Analyze the signals and patterns above. Respond with a JSON object containing:
{
  "classification": "migration_misstep" | "platform_regression" | "documentation_gap" | "config_error" | "payment_issue" | "api_outage",
  "root_cause_hypothesis": "string",
  "confidence": 0.0-1.0,
  "affected_features": ["string"],
  "impact_assessment": "string"
}`

// MessageCreator is the slice of the Anthropic client the classifier uses.
// *anthropic.MessageService satisfies it.
type MessageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicConfig configures the Anthropic classifier.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// AnthropicClassifier classifies clusters with a Claude model.
type AnthropicClassifier struct {
	messages    MessageCreator
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicClassifier builds a classifier over the Anthropic Messages API.
func NewAnthropicClassifier(cfg AnthropicConfig) (*AnthropicClassifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("reasoner: anthropic api key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return newAnthropicClassifier(&client.Messages, cfg), nil
}

func newAnthropicClassifier(messages MessageCreator, cfg AnthropicConfig) *AnthropicClassifier {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	return &AnthropicClassifier{
		messages:    messages,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (a *AnthropicClassifier) Name() string { return a.model }

type llmAnalysis struct {
	Classification      model.IncidentType `json:"classification"`
	RootCauseHypothesis string             `json:"root_cause_hypothesis"`
	Confidence          float64            `json:"confidence"`
	AffectedFeatures    []string           `json:"affected_features"`
	ImpactAssessment    string             `json:"impact_assessment"`
}

func (a *AnthropicClassifier) Classify(ctx context.Context, c Cluster) (Analysis, error) {
	prompt := buildContext(c) + "\n\n" + responseShape
	msg, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("reasoner: anthropic classify: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	raw, err := extractJSON(text.String())
	if err != nil {
		return Analysis{}, err
	}

	var out llmAnalysis
	if err := json.Unmarshal(raw, &out); err != nil {
		return Analysis{}, fmt.Errorf("reasoner: decode classifier reply: %w", err)
	}
	if !out.Classification.Valid() {
		return Analysis{}, fmt.Errorf("reasoner: unknown classification %q", out.Classification)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return Analysis{}, fmt.Errorf("reasoner: confidence %v out of range", out.Confidence)
	}
	return Analysis{
		Classification:      out.Classification,
		RootCauseHypothesis: out.RootCauseHypothesis,
		Confidence:          out.Confidence,
		AffectedFeatures:    out.AffectedFeatures,
		ImpactAssessment:    out.ImpactAssessment,
		TokensUsed:          int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

// extractJSON returns the first complete JSON object in s. Text after the
// object is ignored, braces in it included.
func extractJSON(s string) (json.RawMessage, error) {
	for i := strings.IndexByte(s, '{'); i >= 0; {
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(s[i:])).Decode(&raw); err == nil && raw[0] == '{' {
			return raw, nil
		}
		next := strings.IndexByte(s[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, errors.New("reasoner: no JSON object in classifier reply")
}

func buildContext(c Cluster) string {
	var b strings.Builder
	b.WriteString("## Signals\n\n")
	for i, s := range c.Signals {
		if i == promptSignalLimit {
			break
		}
		merchant := s.Merchant()
		if merchant == "" {
			merchant = "Unknown"
		}
		fmt.Fprintf(&b, "- [%s] %s\n  Merchant: %s\n  Severity: %s\n  Time: %s\n\n",
			s.Type, s.Message, merchant, s.Severity, s.Timestamp.Format(time.RFC3339))
	}
	if c.Pattern != nil {
		fmt.Fprintf(&b, "## Detected Pattern\nType: %s\nDescription: %s\n", c.Pattern.PatternType, c.Pattern.Description)
	}
	return b.String()
}
