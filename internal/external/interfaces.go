package external

import (
	"context"
)

// MaxExpoBatch is the largest number of messages the Expo push API accepts
// per request.
const MaxExpoBatch = 100

// PushMessage is one outbound push addressed to a single device token.
type PushMessage struct {
	To        string         `json:"to"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	Badge     *int           `json:"badge,omitempty"`
	Sound     string         `json:"sound,omitempty"`
	ChannelID string         `json:"channelId,omitempty"`
	// ImageURL is sent as richContent.image by Expo and as the
	// notification image by FCM.
	ImageURL  string         `json:"-"`
}

// Ticket statuses returned by a push gateway.
const (
	TicketStatusOK    = "ok"
	TicketStatusError = "error"
)

// PushTicket is the gateway's per-message receipt. Tickets are aligned
// positionally with the messages of the batch that produced them.
type PushTicket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// OK reports whether the gateway accepted the message.
func (t PushTicket) OK() bool { return t.Status == TicketStatusOK }

// PushGateway delivers batches of push messages.
//
// SendBatch returns an error only when the whole batch failed in transit
// (network, timeout, non-2xx, unparseable body). Per-message rejections are
// reported through the returned tickets.
type PushGateway interface {
	SendBatch(ctx context.Context, msgs []PushMessage) ([]PushTicket, error)
	Name() string
	MaxBatchSize() int
}
