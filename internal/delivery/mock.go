package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/healbee/healbee/internal/models"
)

// SentMessage is one message recorded by MockSender.
type SentMessage struct {
	To   string
	Body string
}

// MockSender records messages instead of sending them. Err, when set, fails every send.
type MockSender struct {
	mu       sync.Mutex
	Channel  models.DeliveryChannel
	Err      error
	Messages []SentMessage
}

var _ Sender = (*MockSender)(nil)

// NewMockSender returns a recording SMS sender.
func NewMockSender() *MockSender {
	return &MockSender{Channel: models.DeliveryChannelSMS}
}

// Send implements Sender.
func (m *MockSender) Send(ctx context.Context, to, body string) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := models.Receipt{To: to, Channel: m.Channel, Status: models.MessageStatusFailed, Time: time.Now().Unix()}
	if m.Err != nil {
		r.Error = m.Err.Error()
		return r, m.Err
	}
	m.Messages = append(m.Messages, SentMessage{To: to, Body: body})
	r.Status = models.MessageStatusSent
	return r, nil
}

// Sent returns a copy of the recorded messages.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Messages...)
}
