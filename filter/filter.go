package filter

import (
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/hobbyhub-chat/types"
)

// DefaultTrigger matches every human text message. The bot never answers itself or system messages.
const DefaultTrigger = `!IsSystem && SenderId != BotId && Text != ""`

// Trigger is a compiled bot trigger filter.
type Trigger struct {
	source  string
	program *vm.Program
}

// Compile compiles source against Env. An empty source compiles to DefaultTrigger.
func Compile(source string) (*Trigger, error) {
	if strings.TrimSpace(source) == "" {
		source = DefaultTrigger
	}
	prog, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	return &Trigger{source: source, program: prog}, nil
}

func (t *Trigger) String() string {
	return t.source
}

// NewEnv builds the filter environment for an accepted message.
func NewEnv(msg *types.Message, topicId string, botId string) Env {
	return Env{
		Message: Message{
			Id:            msg.Id,
			SenderId:      msg.SenderId,
			SenderName:    msg.SenderName,
			Text:          msg.Text,
			IsSystem:      msg.IsSystem,
			HasAttachment: msg.Attachment != nil,
			Timestamp:     msg.Timestamp,
		},
		Room:  Room{Id: msg.RoomId, TopicId: topicId},
		BotId: botId,
		Lower: strings.ToLower,
		Words: strings.Fields,
	}
}

// Match evaluates the trigger. Runtime errors are reported as no match.
func (t *Trigger) Match(env Env) (bool, error) {
	res, err := expr.Run(t.program, env)
	if err != nil {
		return false, err
	}
	matched, ok := res.(bool)
	return ok && matched, nil
}
