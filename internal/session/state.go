package session

import "encoding/json"

// Status is the connection state of a Client.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

var statusNames = map[Status]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Kind tags a Message as a text or a binary frame.
type Kind int

const (
	TextMessage Kind = iota + 1
	BinaryMessage
)

func (k Kind) String() string {
	switch k {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is a single frame exchanged with a peer. Structured values are
// encoded by the caller (or through Client.SendJSON) before they get here.
type Message struct {
	Kind Kind
	Data []byte
}

// Text returns a text frame carrying s.
func Text(s string) Message {
	return Message{Kind: TextMessage, Data: []byte(s)}
}

// Binary returns a binary frame carrying b.
func Binary(b []byte) Message {
	return Message{Kind: BinaryMessage, Data: b}
}

func (m Message) String() string {
	return string(m.Data)
}
