package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/moderation"
	"github.com/tcriess/hobbyhub-chat/types"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// ErrMalformedVerdict is returned by Classify if the model did not answer with the expected JSON object.
var ErrMalformedVerdict = errors.New("malformed classifier verdict")

// Client is the remote content-safety classifier and the bot reply generator, both backed by the Gemini API.
type Client struct {
	models  *genai.Models
	model   string
	botName string
	logger  hclog.Logger
}

// New returns nil (and no error) if no api key is configured.
func New(ctx context.Context, cfg config.GeminiConfig, botName string, logger hclog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		logger.Info("no gemini api key configured, classifier and bot generator disabled")
		return nil, nil
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{models: gc.Models, model: model, botName: botName, logger: logger}, nil
}

type verdict struct {
	Safe   *bool   `json:"safe"`
	Reason *string `json:"reason"`
}

func classifyPrompt(text string) string {
	return fmt.Sprintf(`You are a content moderator for a hobby chat app.
Strictly block any content related to:
1. Religion (Islam, Christianity, Hinduism, God, etc.)
2. Politics
3. Hate speech or harassment

Input text: %q

Respond in JSON format:
{
  "safe": boolean,
  "reason": "string (short explanation if unsafe, null if safe)"
}`, text)
}

func parseVerdict(raw string) (moderation.Classification, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	v := verdict{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return moderation.Classification{}, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if v.Safe == nil {
		return moderation.Classification{}, fmt.Errorf("%w: missing safe field", ErrMalformedVerdict)
	}
	c := moderation.Classification{Safe: *v.Safe}
	if v.Reason != nil {
		c.Reason = *v.Reason
	}
	return c, nil
}

// Classify asks the model whether text is acceptable. A malformed answer is an error, which the moderation gate
// treats like any other classifier failure.
func (c *Client) Classify(ctx context.Context, text string) (moderation.Classification, error) {
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(classifyPrompt(text)), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return moderation.Classification{}, apperrors.NewUpstreamError("classify", err)
	}
	return parseVerdict(resp.Text())
}

func replyPrompt(topic string, botName string, recent []types.Message) string {
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		text := m.Text
		if text == "" && m.Attachment != nil {
			text = fmt.Sprintf("[%s]", m.Attachment.Kind)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.SenderName, text))
	}
	return fmt.Sprintf(`You are a friendly, enthusiastic member of a %s hobby group chat.
Read the recent chat history and provide a short, relevant, and engaging response as if you are another member named %q.
Do not be repetitive. Keep it under 2 sentences.

Chat History:
%s`, topic, botName, strings.Join(lines, "\n"))
}

// Generate produces a short in-character reply to the recent messages of a room about topic. An empty reply is
// not an error.
func (c *Client) Generate(ctx context.Context, topic string, recent []types.Message) (string, error) {
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(replyPrompt(topic, c.botName, recent)), nil)
	if err != nil {
		return "", apperrors.NewUpstreamError("generate", err)
	}
	reply := strings.TrimSpace(resp.Text())
	c.logger.Trace("generated reply", "topic", topic, "length", len(reply))
	return reply, nil
}
