package handler

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wsWait = 2 * time.Second

func (s *testServer) dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *model.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wsWait))
	var msg model.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	assert.Error(t, err, "unexpected frame %s", data)
}

func (s *testServer) waitSubscribed(t *testing.T, userID uuid.UUID) {
	t.Helper()
	ch := pubsub.Channel(userID)
	require.Eventually(t, func() bool {
		return s.mr.PubSubNumSub(ch)[ch] == 1
	}, wsWait, 10*time.Millisecond)
}

// A clip added from one device reaches the other device once and is not echoed back
func TestWS_SyncAcrossDevices(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	d1 := s.signup(t, "alice", "D1")
	d2 := s.signup(t, "alice", "D2")

	c1 := s.dialWS(t, srv, d1.AccessToken)
	assert.Equal(t, model.WSTypeAuthSuccess, readFrame(t, c1).Type)
	c2 := s.dialWS(t, srv, d2.AccessToken)
	assert.Equal(t, model.WSTypeAuthSuccess, readFrame(t, c2).Type)
	s.waitSubscribed(t, d1.User.ID)

	w := s.do(t, http.MethodPost, "/api/v1/clipboard", d1.AccessToken, model.AddClipRequest{Content: "Hello"})
	require.Equal(t, http.StatusCreated, w.Code)
	clipID := decode[model.AddClipResponse](t, w).ID

	msg := readFrame(t, c2)
	assert.Equal(t, model.WSTypeClipboardUpdate, msg.Type)
	assert.Equal(t, model.SyncActionAdd, msg.Action)
	assert.Equal(t, "D1", msg.SourceDevice)
	var data model.ClipAddedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, clipID, data.ClipID)
	assert.Equal(t, "Hello", data.Content)

	assertSilent(t, c2)
	assertSilent(t, c1)
}

func TestWS_SyncFrameAndHistory(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	d1 := s.signup(t, "alice", "D1")
	d2 := s.signup(t, "alice", "D2")

	c1 := s.dialWS(t, srv, d1.AccessToken)
	readFrame(t, c1)
	c2 := s.dialWS(t, srv, d2.AccessToken)
	readFrame(t, c2)
	s.waitSubscribed(t, d1.User.ID)

	require.NoError(t, c1.WriteJSON(map[string]interface{}{
		"type": "sync",
		"data": map[string]string{"content": "from socket", "content_type": "text"},
	}))
	confirm := readFrame(t, c1)
	require.Equal(t, model.WSTypeSyncConfirm, confirm.Type)
	var ack struct {
		ClipID uuid.UUID `json:"clip_id"`
	}
	require.NoError(t, json.Unmarshal(confirm.Data, &ack))

	update := readFrame(t, c2)
	assert.Equal(t, model.WSTypeClipboardUpdate, update.Type)
	assert.Equal(t, "D1", update.SourceDevice)

	require.NoError(t, c2.WriteJSON(map[string]interface{}{
		"type": "request_history",
		"data": map[string]int{"page": 1, "page_size": 10},
	}))
	history := readFrame(t, c2)
	require.Equal(t, model.WSTypeHistory, history.Type)
	var page model.ClipboardPage
	require.NoError(t, json.Unmarshal(history.Data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, ack.ClipID, page.Items[0].ID)

	require.NoError(t, c2.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, model.WSTypePong, readFrame(t, c2).Type)

	require.NoError(t, c2.WriteJSON(map[string]string{"type": "bogus"}))
	assert.Equal(t, model.WSTypeError, readFrame(t, c2).Type)
}

func TestWS_AuthFrameAndRejection(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)
	d1 := s.signup(t, "alice", "D1")

	conn := s.dialWS(t, srv, "")
	require.NoError(t, conn.WriteJSON(model.WSMessage{Type: model.WSTypeAuth, Token: d1.AccessToken}))
	assert.Equal(t, model.WSTypeAuthSuccess, readFrame(t, conn).Type)

	bad := s.dialWS(t, srv, "not-a-token")
	bad.SetReadDeadline(time.Now().Add(wsWait))
	_, _, err := bad.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "authentication failed", closeErr.Text)
}

// Revoked tokens cannot open a socket either
func TestWS_RevokedTokenRejected(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)
	d1 := s.signup(t, "alice", "D1")

	w := s.do(t, http.MethodPost, "/api/v1/auth/logout", d1.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	conn := s.dialWS(t, srv, d1.AccessToken)
	conn.SetReadDeadline(time.Now().Add(wsWait))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func (s *testServer) wrapSessionKey(t *testing.T, key []byte) string {
	t.Helper()
	block, _ := pem.Decode([]byte(s.keys.PublicKeyPEM()))
	require.NotNil(t, block)
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub.(*rsa.PublicKey), key, nil)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(wrapped)
}

func TestWS_KeyExchangeAndEncryptedSync(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)
	d1 := s.signup(t, "alice", "D1")

	conn := s.dialWS(t, srv, d1.AccessToken)
	readFrame(t, conn)

	// sealed content before any key is installed
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "sync",
		"data": map[string]interface{}{"encrypted": map[string]string{"encrypted_content": "AAAA", "content_hash": "x"}},
	}))
	var reason model.WSErrorData
	msg := readFrame(t, conn)
	require.Equal(t, model.WSTypeError, msg.Type)
	require.NoError(t, json.Unmarshal(msg.Data, &reason))
	assert.Equal(t, model.ErrNoSessionKey.Error(), reason.Reason)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "key_exchange",
		"data": map[string]string{"encrypted_key": "bm90LWEta2V5"},
	}))
	assert.Equal(t, model.WSTypeError, readFrame(t, conn).Type)

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "key_exchange",
		"data": map[string]string{"encrypted_key": s.wrapSessionKey(t, key)},
	}))
	assert.Equal(t, model.WSTypeKeyExchangeOK, readFrame(t, conn).Type)
	assert.True(t, s.keys.HasSessionKey(d1.User.ID))

	sealed, err := s.keys.Encrypt(d1.User.ID, "top secret")
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "sync",
		"data": model.WSSyncData{ContentType: model.ContentTypeText, Encrypted: sealed},
	}))
	confirm := readFrame(t, conn)
	require.Equal(t, model.WSTypeSyncConfirm, confirm.Type)
	var ack struct {
		ClipID uuid.UUID `json:"clip_id"`
	}
	require.NoError(t, json.Unmarshal(confirm.Data, &ack))

	item, err := s.clips.Get(context.Background(), d1.User.ID, ack.ClipID)
	require.NoError(t, err)
	assert.Equal(t, "top secret", item.Content)
}

func TestWS_CorruptedEncryptedSync(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)
	d1 := s.signup(t, "alice", "D1")

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	require.NoError(t, s.keys.SetSessionKey(d1.User.ID, key))

	conn := s.dialWS(t, srv, d1.AccessToken)
	readFrame(t, conn)

	sealed, err := s.keys.Encrypt(d1.User.ID, "top secret")
	require.NoError(t, err)
	sealed.EncryptedContent = base64.StdEncoding.EncodeToString([]byte("definitely not aes-cbc"))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "sync",
		"data": model.WSSyncData{Encrypted: sealed},
	}))

	msg := readFrame(t, conn)
	require.Equal(t, model.WSTypeError, msg.Type)
	var reason model.WSErrorData
	require.NoError(t, json.Unmarshal(msg.Data, &reason))
	assert.Equal(t, model.ErrPayloadCorrupted.Error(), reason.Reason)

	stats, err := s.clips.Stats(context.Background(), d1.User.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalItems)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req), "no origin")

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
