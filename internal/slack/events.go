package slack

import "encoding/json"

// File is an attachment on an inbound message.
type File struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Mimetype           string `json:"mimetype"`
	Size               int64  `json:"size"`
	URLPrivateDownload string `json:"url_private_download"`
}

// InnerMessage is the nested message carried by message_changed and
// message_deleted events.
type InnerMessage struct {
	User  string `json:"user,omitempty"`
	BotID string `json:"bot_id,omitempty"`
	Text  string `json:"text,omitempty"`
	TS    string `json:"ts,omitempty"`
}

// MessageEvent is one inbound message event from the Events API.
type MessageEvent struct {
	Type            string        `json:"type"`
	SubType         string        `json:"subtype,omitempty"`
	Channel         string        `json:"channel"`
	User            string        `json:"user,omitempty"`
	BotID           string        `json:"bot_id,omitempty"`
	Text            string        `json:"text,omitempty"`
	TS              string        `json:"ts"`
	ThreadTS        string        `json:"thread_ts,omitempty"`
	Files           []File        `json:"files,omitempty"`
	Message         *InnerMessage `json:"message,omitempty"`
	PreviousMessage *InnerMessage `json:"previous_message,omitempty"`
	DeletedTS       string        `json:"deleted_ts,omitempty"`
}

// FromBot reports whether the event originated from a bot (including this
// gateway's own posts, which must never loop back into the queue).
func (m *MessageEvent) FromBot() bool {
	if m.BotID != "" || m.SubType == "bot_message" {
		return true
	}
	return m.Message != nil && m.Message.BotID != ""
}

// socket-mode envelope shapes

type envelope struct {
	Type                   string          `json:"type"`
	EnvelopeID             string          `json:"envelope_id,omitempty"`
	Payload                json.RawMessage `json:"payload,omitempty"`
	Reason                 string          `json:"reason,omitempty"`
	AcceptsResponsePayload bool            `json:"accepts_response_payload,omitempty"`
}

type eventsAPIPayload struct {
	Event json.RawMessage `json:"event"`
}

type ack struct {
	EnvelopeID string `json:"envelope_id"`
}
