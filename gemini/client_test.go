package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/types"
)

func TestParseVerdict(t *testing.T) {
	c, err := parseVerdict(`{"safe": true, "reason": null}`)
	require.NoError(t, err)
	assert.True(t, c.Safe)
	assert.Equal(t, "", c.Reason)

	c, err = parseVerdict("```json\n{\"safe\": false, \"reason\": \"politics\"}\n```")
	require.NoError(t, err)
	assert.False(t, c.Safe)
	assert.Equal(t, "politics", c.Reason)

	_, err = parseVerdict(`{}`)
	assert.True(t, errors.Is(err, ErrMalformedVerdict))

	_, err = parseVerdict(`sure, looks fine`)
	assert.True(t, errors.Is(err, ErrMalformedVerdict))
}

func TestReplyPrompt(t *testing.T) {
	recent := []types.Message{
		{SenderName: "Alice", Text: "Just fired my first bowl"},
		{SenderName: "Bob", Attachment: &types.Attachment{Kind: types.AttachmentKindImage}},
	}
	prompt := replyPrompt("Pottery", "HobbyBot", recent)
	assert.Contains(t, prompt, "member of a Pottery hobby group chat")
	assert.Contains(t, prompt, `named "HobbyBot"`)
	assert.True(t, strings.HasSuffix(prompt, "Alice: Just fired my first bowl\nBob: [image]"))
}

func TestClassifyPromptQuotesInput(t *testing.T) {
	prompt := classifyPrompt(`say "hi"`)
	assert.Contains(t, prompt, `Input text: "say \"hi\""`)
}

func TestNewWithoutKey(t *testing.T) {
	c, err := New(context.Background(), config.GeminiConfig{}, "HobbyBot", hclog.NewNullLogger())
	assert.NoError(t, err)
	assert.Nil(t, c)
}
