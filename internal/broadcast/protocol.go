package broadcast

// Client message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
)

// Server message types.
const (
	MsgConnected    = "connected"
	MsgSubscribed   = "subscribed"
	MsgUnsubscribed = "unsubscribed"
	MsgSnapshot     = "snapshot"
	MsgNotification = "notification"
	MsgMaintenance  = "maintenance"
	MsgPong         = "pong"
	MsgError        = "error"
)

type ClientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

type ServerMessage struct {
	Type         string      `json:"type"`
	Topic        string      `json:"topic,omitempty"`
	ConnectionID string      `json:"connectionId,omitempty"`
	Identity     *Identity   `json:"identity,omitempty"`
	EventType    string      `json:"eventType,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	Message      string      `json:"message,omitempty"`
	Timestamp    int64       `json:"timestamp"`
}
