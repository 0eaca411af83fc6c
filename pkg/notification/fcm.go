package notification

import (
	"context"
	"fmt"
	"log"
	"unicode/utf8"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"google.golang.org/api/option"
)

const previewLength = 80

// TokenStore looks up and prunes device push tokens
type TokenStore interface {
	PushTokens(userID uuid.UUID, excludeIDs []string) ([]string, error)
	ClearPushToken(token string) error
}

// OnlineSource lists devices that currently hold a live socket
type OnlineSource interface {
	OnlineDevices(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// NotificationService tells devices without a live socket that the clipboard changed
type NotificationService struct {
	client   *messaging.Client
	tokens   TokenStore
	presence OnlineSource
}

// NewNotificationService connects to FCM with a service account file. Without
// credentials, or when Firebase refuses them, it returns a nil service, which
// is a valid no-op, so the server still starts.
func NewNotificationService(ctx context.Context, credentialsFile string, tokens TokenStore, presence OnlineSource) (*NotificationService, error) {
	if credentialsFile == "" {
		log.Println("⚠️  No Firebase credentials, push notifications off")
		return nil, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		log.Printf("⚠️  Firebase app: %v (push notifications off)", err)
		return nil, nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		log.Printf("⚠️  Firebase messaging: %v (push notifications off)", err)
		return nil, nil
	}

	log.Println("✅ FCM ready")
	return &NotificationService{client: client, tokens: tokens, presence: presence}, nil
}

// NotifyClipboardUpdate pushes to every device of the user except the source
// and the ones already connected. Tokens FCM reports as unregistered are dropped.
func (s *NotificationService) NotifyClipboardUpdate(ctx context.Context, item *model.ClipboardItem) error {
	if s == nil || s.client == nil {
		return nil
	}

	exclude := []string{item.DeviceID}
	online, err := s.presence.OnlineDevices(ctx, item.UserID)
	if err != nil {
		return err
	}
	exclude = append(exclude, online...)

	tokens, err := s.tokens.PushTokens(item.UserID, exclude)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	br, err := s.client.SendEachForMulticast(ctx, buildMessage(tokens, item))
	if err != nil {
		return fmt.Errorf("fcm multicast to %d devices: %w", len(tokens), err)
	}

	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			if messaging.IsUnregistered(resp.Error) {
				if err := s.tokens.ClearPushToken(tokens[idx]); err != nil {
					log.Printf("⚠️ Failed to drop stale FCM token: %v", err)
				}
				continue
			}
			log.Printf("⚠️ FCM failure for user %s: %v", item.UserID, resp.Error)
		}
	}
	return nil
}

// buildMessage is a data message with a short preview; binary clips carry no preview
func buildMessage(tokens []string, item *model.ClipboardItem) *messaging.MulticastMessage {
	body := "New " + string(item.ContentType) + " copied"
	if !item.ContentType.IsBinary() {
		body = preview(item.Content)
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: "Clipboard updated",
			Body:  body,
		},
		Data: map[string]string{
			"type":          "clipboard_update",
			"clip_id":       item.ID.String(),
			"content_type":  string(item.ContentType),
			"source_device": item.DeviceID,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			// newer clips replace older ones in the tray
			CollapseKey: "clipboard",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength]) + "…"
}
