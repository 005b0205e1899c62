package external

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinerbell/internal/types"
)

type fakeFCMSender struct {
	sent []*messaging.Message
	resp *messaging.BatchResponse
	err  error
}

func (f *fakeFCMSender) SendEach(_ context.Context, msgs []*messaging.Message) (*messaging.BatchResponse, error) {
	f.sent = msgs
	return f.resp, f.err
}

func TestFCMGateway_SendBatch(t *testing.T) {
	badge := 3
	sender := &fakeFCMSender{resp: &messaging.BatchResponse{
		SuccessCount: 1,
		FailureCount: 1,
		Responses: []*messaging.SendResponse{
			{Success: true, MessageID: "projects/p/messages/1"},
			{Success: false, Error: errors.New("invalid registration")},
		},
	}}
	g := newFCMGatewayWithSender(sender, nil)

	tickets, err := g.SendBatch(context.Background(), []PushMessage{
		{To: "tok-1", Title: "Tomorrow: Jazz Night", Body: "See you", Data: map[string]any{"event_id": "e1", "item_count": 3}, Badge: &badge},
		{To: "tok-2", Title: "Tomorrow: Jazz Night", Body: "See you"},
	})
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.True(t, tickets[0].OK())
	assert.Equal(t, "projects/p/messages/1", tickets[0].ID)
	assert.False(t, tickets[1].OK())
	assert.Equal(t, "invalid registration", tickets[1].Message)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "tok-1", sender.sent[0].Token)
	assert.Equal(t, "3", sender.sent[0].Data["item_count"])
	require.NotNil(t, sender.sent[0].APNS)
	assert.Equal(t, &badge, sender.sent[0].APNS.Payload.Aps.Badge)
	assert.Nil(t, sender.sent[1].APNS)
}

func TestFCMGateway_TransportError(t *testing.T) {
	g := newFCMGatewayWithSender(&fakeFCMSender{err: errors.New("dial tcp: timeout")}, nil)

	_, err := g.SendBatch(context.Background(), []PushMessage{{To: "tok"}})
	assert.Equal(t, types.ErrCodeUpstreamPushGateway, types.CodeOf(err))
}

func TestFCMGateway_Limits(t *testing.T) {
	g := newFCMGatewayWithSender(&fakeFCMSender{}, nil)
	assert.Equal(t, "fcm", g.Name())
	assert.Equal(t, 500, g.MaxBatchSize())

	tickets, err := g.SendBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, tickets)
}
