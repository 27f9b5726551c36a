package filter

/*
Here the Env used in the bot trigger filters is defined.
Trigger filters are configuration, so renaming properties breaks existing deployments.
*/

type Message struct {
	Id            string
	SenderId      string
	SenderName    string
	Text          string
	IsSystem      bool
	HasAttachment bool
	Timestamp     int64
}

type Room struct {
	Id      string
	TopicId string
}

type Env struct {
	Message
	Room  Room
	BotId string

	Lower func(string) string
	Words func(string) []string
}
