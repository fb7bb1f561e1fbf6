package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"supplybot/internal/domain"
	"supplybot/internal/httpx"
	"supplybot/internal/logx"
)

const extractSystemPrompt = "You are a careful invoice parser that outputs strict JSON only."

const extractInstructions = `Extract the structured data of this supplier invoice and return one JSON object with the fields:
supplier, invoice_number, invoice_date (YYYY-MM-DD), currency (ISO 4217),
items (list of {name, sku, barcode, quantity, uom, price, tax, line_total}),
totals {subtotal, tax, total}.
Numbers must be JSON numbers. tax is a percent rate. Use null for anything missing. Do not add commentary.`

// Completer sends one prompt to a language model and returns its text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type AnthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    logrus.FieldLogger
}

func NewAnthropicCompleter(apiKey, model string, logger logrus.FieldLogger) *AnthropicCompleter {
	if logger == nil {
		logger = logx.Logger()
	}
	return &AnthropicCompleter{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey), option.WithHTTPClient(httpx.ExternalHTTPClient())),
		model:     model,
		maxTokens: 4096,
		logger:    logger,
	}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			c.logger.WithFields(logrus.Fields{
				"model":      c.model,
				"size":       len(block.Text),
				"tokens_in":  message.Usage.InputTokens,
				"tokens_out": message.Usage.OutputTokens,
			}).Info("llm extract response")
			return block.Text, nil
		}
	}
	return "", errors.New("no text content in anthropic response")
}

// LLMExtractor turns plain invoice text into an ExtractedDocument.
type LLMExtractor struct {
	completer Completer
	currency  string
	logger    logrus.FieldLogger
}

func NewLLMExtractor(completer Completer, defaultCurrency string, logger logrus.FieldLogger) *LLMExtractor {
	if logger == nil {
		logger = logx.Logger()
	}
	return &LLMExtractor{completer: completer, currency: defaultCurrency, logger: logger}
}

func (e *LLMExtractor) Extract(ctx context.Context, text string) (domain.ExtractedDocument, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ExtractedDocument{}, fmt.Errorf("%w: empty text", ErrInvalidDocument)
	}
	out, err := e.completer.Complete(ctx, extractSystemPrompt, extractInstructions+"\n\n---\n"+text)
	if err != nil {
		logx.LogError(e.logger, "extract", "Extract", "llm call failed", len(text), err)
		return domain.ExtractedDocument{}, err
	}
	payload, ok := jsonObject(out)
	if !ok {
		return domain.ExtractedDocument{}, fmt.Errorf("%w: model answer has no JSON object", ErrInvalidDocument)
	}
	return Decode([]byte(payload), e.currency)
}

// jsonObject cuts the outermost {...} out of a model answer, dropping code
// fences and any prose around it.
func jsonObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
