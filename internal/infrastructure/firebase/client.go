package firebase

import (
	"context"
	"fmt"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"accountlink/internal/domain/account"
	"accountlink/internal/domain/monitor"
	"accountlink/internal/domain/wizard"
	"accountlink/internal/shared/messages"
)

// TopicPrefix namespaces the per-session FCM topics a dashboard subscribes to.
const TopicPrefix = "accounts-"

// Sender is the subset of *messaging.Client the notifier uses.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Client pushes sync failures and wizard completions to the session's topic
type Client struct {
	sender Sender
	texts  *messages.Messages
	logger *zap.Logger
}

// Ensure Client can be wired as a sync notifier and wizard handoff
var (
	_ monitor.Notifier = (*Client)(nil)
	_ wizard.Handoff   = (*Client)(nil)
)

// NewClient initializes a Firebase app and returns an FCM-backed notifier.
func NewClient(ctx context.Context, credentialsFile string, texts *messages.Messages, logger *zap.Logger) (*Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}

	return NewClientWithSender(msgClient, texts, logger), nil
}

// NewClientWithSender wraps an existing sender.
func NewClientWithSender(sender Sender, texts *messages.Messages, logger *zap.Logger) *Client {
	return &Client{sender: sender, texts: texts, logger: logger}
}

// Topic returns the FCM topic for a session.
func Topic(sessionID string) string {
	return TopicPrefix + sessionID
}

// SyncFinished pushes failed syncs only. Successful syncs are silent.
func (c *Client) SyncFinished(ctx context.Context, event monitor.SyncEvent) error {
	if event.Succeeded() {
		return nil
	}
	text := c.texts.SyncFailed.Format(map[string]string{
		"account": event.Account.Name,
		"reason":  withPeriod(event.Status.LastError),
	})
	return c.send(ctx, event.MonitorID, text, map[string]string{
		"type":       "sync_failed",
		"account_id": event.Account.ID,
		"automatic":  strconv.FormatBool(event.Automatic),
	})
}

// Completed tells the dashboard the new accounts are being monitored.
func (c *Client) Completed(ctx context.Context, sessionID string, accounts []account.Record) error {
	text := c.texts.WizardCompleted.Format(map[string]string{
		"count": strconv.Itoa(len(accounts)),
	})
	return c.send(ctx, sessionID, text, map[string]string{"type": "wizard_completed"})
}

// Cancelled sends nothing.
func (c *Client) Cancelled(context.Context, string) error {
	return nil
}

func (c *Client) send(ctx context.Context, sessionID string, text messages.MessageText, data map[string]string) error {
	msg := &messaging.Message{
		Topic: Topic(sessionID),
		Notification: &messaging.Notification{
			Title: text.Title,
			Body:  text.Body,
		},
		Data: data,
	}

	id, err := c.sender.Send(ctx, msg)
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			c.logger.Warn("FCM rejected message", zap.String("topic", msg.Topic), zap.Error(err))
		}
		return fmt.Errorf("failed to send FCM message: %w", err)
	}

	c.logger.Debug("FCM message sent", zap.String("topic", msg.Topic), zap.String("message_id", id))
	return nil
}

func withPeriod(s string) string {
	if s == "" || s[len(s)-1] == '.' {
		return s
	}
	return s + "."
}
