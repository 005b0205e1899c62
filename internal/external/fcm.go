package external

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"dinerbell/internal/types"
)

// maxFCMBatch is the SendEach limit.
const maxFCMBatch = 500

// fcmSender is the subset of *messaging.Client used by FCMGateway.
type fcmSender interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// FCMGateway implements PushGateway with Firebase Cloud Messaging. Tokens
// must be native FCM registration tokens.
type FCMGateway struct {
	client fcmSender
	logger *slog.Logger
}

// NewFCMGateway initializes a Firebase app from a service-account file.
func NewFCMGateway(ctx context.Context, credentialsFile string, logger *slog.Logger) (*FCMGateway, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging client: %w", err)
	}
	return newFCMGatewayWithSender(client, logger), nil
}

func newFCMGatewayWithSender(client fcmSender, logger *slog.Logger) *FCMGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &FCMGateway{client: client, logger: logger}
}

func (g *FCMGateway) Name() string { return "fcm" }

func (g *FCMGateway) MaxBatchSize() int { return maxFCMBatch }

// SendBatch sends msgs with SendEach and converts the per-message responses
// to tickets.
func (g *FCMGateway) SendBatch(ctx context.Context, msgs []PushMessage) ([]PushTicket, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	out := make([]*messaging.Message, len(msgs))
	for i, m := range msgs {
		out[i] = toFCMMessage(m)
	}

	resp, err := g.client.SendEach(ctx, out)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPushGateway, "fcm send failed", err)
	}

	tickets := make([]PushTicket, len(resp.Responses))
	for i, r := range resp.Responses {
		if r == nil {
			tickets[i] = PushTicket{Status: TicketStatusError, Message: "no response"}
			continue
		}
		if r.Success {
			tickets[i] = PushTicket{Status: TicketStatusOK, ID: r.MessageID}
			continue
		}
		t := PushTicket{Status: TicketStatusError, Message: "unknown error"}
		if r.Error != nil {
			t.Message = r.Error.Error()
		}
		if messaging.IsUnregistered(r.Error) {
			t.Details = map[string]any{"error": "DeviceNotRegistered"}
		}
		tickets[i] = t
	}
	if resp.FailureCount > 0 {
		g.logger.Warn("fcm batch had rejected messages",
			"success", resp.SuccessCount, "failure", resp.FailureCount)
	}
	return tickets, nil
}

// toFCMMessage maps a PushMessage. FCM data values must be strings.
func toFCMMessage(m PushMessage) *messaging.Message {
	data := make(map[string]string, len(m.Data))
	for k, v := range m.Data {
		switch s := v.(type) {
		case string:
			data[k] = s
		default:
			data[k] = fmt.Sprint(v)
		}
	}

	msg := &messaging.Message{
		Token: m.To,
		Notification: &messaging.Notification{
			Title:    m.Title,
			Body:     m.Body,
			ImageURL: m.ImageURL,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: m.ChannelID,
				Sound:     m.Sound,
			},
		},
	}
	if m.Badge != nil || m.Sound != "" {
		aps := &messaging.Aps{Badge: m.Badge, Sound: m.Sound}
		msg.APNS = &messaging.APNSConfig{Payload: &messaging.APNSPayload{Aps: aps}}
	}
	return msg
}
