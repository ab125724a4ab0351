package model

import "time"

// Channel identifies which platform a message arrived on.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat"
)

// RecipientRole records how the persona received the message.
// "from" marks messages the persona sent; those never become TODOs.
type RecipientRole string

const (
	RoleTo   RecipientRole = "to"
	RoleCC   RecipientRole = "cc"
	RoleBCC  RecipientRole = "bcc"
	RoleFrom RecipientRole = "from"
)

// RolePriority orders recipient roles for duplicate resolution: TO > CC > BCC.
func RolePriority(r RecipientRole) int {
	switch r {
	case RoleTo:
		return 3
	case RoleCC:
		return 2
	case RoleBCC:
		return 1
	default:
		return 0
	}
}

// Message is an immutable snapshot of an inbound email or chat message.
// The source of truth lives in the external message system; we never
// mutate a Message after ingestion.
type Message struct {
	ID            string        `json:"id"`
	Sender        string        `json:"sender"`
	Recipients    []string      `json:"recipients,omitempty"`
	CC            []string      `json:"cc,omitempty"`
	BCC           []string      `json:"bcc,omitempty"`
	Subject       string        `json:"subject"`
	Body          string        `json:"body"`
	Timestamp     time.Time     `json:"timestamp"`
	Channel       Channel       `json:"channel"`
	RecipientRole RecipientRole `json:"recipient_role"`
}

// Content returns the text used for filtering and extraction: the body,
// or the subject when the body is empty.
func (m Message) Content() string {
	if m.Body != "" {
		return m.Body
	}
	return m.Subject
}
