package notification

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage_TextPreview(t *testing.T) {
	item := &model.ClipboardItem{
		ID:          uuid.New(),
		DeviceID:    "D1",
		Content:     strings.Repeat("é", 100),
		ContentType: model.ContentTypeText,
	}

	msg := buildMessage([]string{"t1", "t2"}, item)
	assert.Equal(t, []string{"t1", "t2"}, msg.Tokens)
	assert.Equal(t, item.ID.String(), msg.Data["clip_id"])
	assert.Equal(t, "D1", msg.Data["source_device"])
	assert.Equal(t, "clipboard_update", msg.Data["type"])
	assert.Equal(t, previewLength+1, len([]rune(msg.Notification.Body)))
}

func TestBuildMessage_BinaryHasNoPreview(t *testing.T) {
	item := &model.ClipboardItem{
		ID:          uuid.New(),
		Content:     `{"object_key":"clipboard/x.png"}`,
		ContentType: model.ContentTypeImage,
	}

	msg := buildMessage([]string{"t1"}, item)
	assert.Equal(t, "New image copied", msg.Notification.Body)
}

func TestNilServiceIsNoop(t *testing.T) {
	var s *NotificationService
	require.NoError(t, s.NotifyClipboardUpdate(context.Background(), &model.ClipboardItem{}))

	s, err := NewNotificationService(context.Background(), "", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, s)
}
