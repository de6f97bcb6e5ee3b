package fcm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const maxBodyLen = 240

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type Client struct {
	msgClient messageSender
	logger    *zap.Logger
}

func NewClient(ctx context.Context, logger *zap.Logger, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		logger.Warn("No Firebase credentials file provided. FCM will utilize environment variable GOOGLE_APPLICATION_CREDENTIALS or default credentials.")
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &Client{
		msgClient: msgClient,
		logger:    logger,
	}, nil
}

// SendToTopic pushes a notification to every device subscribed to topic.
func (c *Client) SendToTopic(ctx context.Context, topic, title, body string, data map[string]string) error {
	topic = SanitizeTopic(topic)
	if topic == "" {
		return nil
	}

	message := &messaging.Message{
		Topic: topic,
		Notification: &messaging.Notification{
			Title: title,
			Body:  truncate(body, maxBodyLen),
		},
		Data: data,
	}

	if _, err := c.msgClient.Send(ctx, message); err != nil {
		c.logger.Error("Failed to send FCM message", zap.String("topic", topic), zap.Error(err))
		return err
	}
	return nil
}

// SanitizeTopic maps s onto the characters FCM accepts in topic names.
func SanitizeTopic(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == '~', r == '%':
			return r
		}
		return '_'
	}, strings.TrimSpace(s))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
