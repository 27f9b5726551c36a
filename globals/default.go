package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "hobbyhub-chat",
	Level: hclog.LevelFromString("DEBUG"),
})
