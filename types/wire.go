package types

import "encoding/json"

const (
	// client -> server
	WireEventChat   = "chat"
	WireEventJoin   = "join"
	WireEventReport = "report"

	// server -> client
	WireEventRejected = "rejected"
	WireEventError    = "error"
	WireEventInfo     = "info"
	WireEventReported = "reported"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ChatRequest is the payload of an incoming "chat" event.
type ChatRequest struct {
	Id         string      `json:"id" mapstructure:"id"` // optional client side id of the optimistic local copy
	Text       string      `json:"text" mapstructure:"text"`
	Attachment *Attachment `json:"attachment" mapstructure:"attachment"`
}

// JoinRequest switches the connection to another room.
type JoinRequest struct {
	RoomId string `json:"roomId" mapstructure:"roomId"`
}

// ReportRequest is the payload of an incoming "report" event.
type ReportRequest struct {
	MessageId string `json:"messageId" mapstructure:"messageId"`
	Reason    string `json:"reason" mapstructure:"reason"`
}

// Rejection is sent to the submitting client only.
type Rejection struct {
	Id     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// RoomInfo carries the number of live subscribers of a room.
type RoomInfo struct {
	RoomId        string `json:"roomId"`
	NoConnections int    `json:"noConnections"`
}

// EncodeWire marshals data into a WebsocketMessage envelope for the given event.
func EncodeWire(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: raw})
}
