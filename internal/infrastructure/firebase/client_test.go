package firebase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"accountlink/internal/domain/account"
	"accountlink/internal/domain/monitor"
	"accountlink/internal/shared/messages"
)

// MockSender is a mock implementation of Sender
type MockSender struct {
	SendFunc func(ctx context.Context, message *messaging.Message) (string, error)
	sent     []*messaging.Message
}

func (m *MockSender) Send(ctx context.Context, message *messaging.Message) (string, error) {
	m.sent = append(m.sent, message)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, message)
	}
	return "projects/test/messages/1", nil
}

func newTestClient(t *testing.T, sender Sender) *Client {
	t.Helper()
	texts, err := messages.Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("messages.Parse() error = %v", err)
	}
	return NewClientWithSender(sender, texts, zap.NewNop())
}

func TestSyncFinished(t *testing.T) {
	tests := []struct {
		name     string
		phase    monitor.Phase
		wantSent int
	}{
		{name: "success is silent", phase: monitor.PhaseSuccess, wantSent: 0},
		{name: "failure pushes", phase: monitor.PhaseError, wantSent: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &MockSender{}
			c := newTestClient(t, sender)

			err := c.SyncFinished(context.Background(), monitor.SyncEvent{
				MonitorID: "2abc",
				Account:   account.Record{ID: "a1", Name: "Everyday Checking"},
				Status:    monitor.SyncStatus{Phase: tt.phase, LastError: "The institution did not respond"},
			})
			if err != nil {
				t.Fatalf("SyncFinished() error = %v", err)
			}
			if len(sender.sent) != tt.wantSent {
				t.Fatalf("sent = %d, want %d", len(sender.sent), tt.wantSent)
			}
			if tt.wantSent == 0 {
				return
			}
			msg := sender.sent[0]
			if msg.Topic != "accounts-2abc" {
				t.Errorf("Topic = %q", msg.Topic)
			}
			if !strings.Contains(msg.Notification.Body, "Everyday Checking") ||
				!strings.Contains(msg.Notification.Body, "did not respond.") {
				t.Errorf("Body = %q", msg.Notification.Body)
			}
			if msg.Data["account_id"] != "a1" || msg.Data["type"] != "sync_failed" {
				t.Errorf("Data = %v", msg.Data)
			}
		})
	}
}

func TestCompleted(t *testing.T) {
	sender := &MockSender{}
	c := newTestClient(t, sender)

	if err := c.Completed(context.Background(), "s1", make([]account.Record, 3)); err != nil {
		t.Fatalf("Completed() error = %v", err)
	}
	if len(sender.sent) != 1 || !strings.HasPrefix(sender.sent[0].Notification.Body, "3 account") {
		t.Errorf("sent = %+v", sender.sent)
	}
	if err := c.Cancelled(context.Background(), "s1"); err != nil || len(sender.sent) != 1 {
		t.Errorf("Cancelled() should send nothing, err = %v", err)
	}
}

func TestSend_Error(t *testing.T) {
	boom := errors.New("quota exceeded")
	c := newTestClient(t, &MockSender{
		SendFunc: func(ctx context.Context, message *messaging.Message) (string, error) {
			return "", boom
		},
	})

	err := c.Completed(context.Background(), "s1", nil)
	if !errors.Is(err, boom) {
		t.Errorf("Completed() error = %v, want wrapped send error", err)
	}
}
