package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/middleware"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/pubsub"
	"github.com/quocanhngo/clipsync/internal/repository"
	"github.com/quocanhngo/clipsync/internal/service"
	"github.com/quocanhngo/clipsync/internal/ws"
	"github.com/quocanhngo/clipsync/pkg/auth"
	"github.com/quocanhngo/clipsync/pkg/encryption"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]model.User
}

func (m *memUsers) Create(user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.ID = uuid.New()
	user.CreatedAt = time.Now()
	m.users[user.ID] = *user
	return nil
}

func (m *memUsers) FindByID(id uuid.UUID) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (m *memUsers) FindByUsername(username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memUsers) ExistsByUsername(username string) (bool, error) {
	_, err := m.FindByUsername(username)
	return err == nil, nil
}

type memDevices struct {
	mu      sync.Mutex
	devices map[string]model.Device
}

func (m *memDevices) Upsert(device *model.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[device.ID] = *device
	return nil
}

func (m *memDevices) FindByID(id string) (*model.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &d, nil
}

func (m *memDevices) ListByUser(userID uuid.UUID) ([]model.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Device
	for _, d := range m.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDevices) UpdateLabel(userID uuid.UUID, id, label string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok || d.UserID != userID {
		return false, nil
	}
	d.Label = label
	m.devices[id] = d
	return true, nil
}

func (m *memDevices) Touch(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		d.LastSeen = at
		m.devices[id] = d
	}
	return nil
}

func (m *memDevices) Delete(userID uuid.UUID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok || d.UserID != userID {
		return false, nil
	}
	delete(m.devices, id)
	return true, nil
}

// testServer is the whole HTTP and socket surface over miniredis
type testServer struct {
	mr     *miniredis.Miniredis
	router *gin.Engine
	hub    *ws.Hub
	keys   *encryption.Manager
	clips  *service.ClipboardService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})

	keys, err := encryption.NewManager(1024)
	require.NoError(t, err)

	users := &memUsers{users: map[uuid.UUID]model.User{}}
	devices := &memDevices{devices: map[string]model.Device{}}
	jwtManager := auth.NewJWTManager("test-secret", time.Hour, 24*time.Hour, auth.NewBlacklist())
	presence := repository.NewPresenceRepository(rdb, time.Minute)
	clips := repository.NewClipboardRepository(rdb, 100, time.Hour)

	bridge := pubsub.NewBridge(rdb, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go bridge.Run(ctx)

	hub := ws.NewHub(bridge, presence, ws.DefaultConfig())

	authService := service.NewAuthService(users, devices, jwtManager, keys, presence)
	clipboardService := service.NewClipboardService(clips, bridge, keys, 1024)
	deviceService := service.NewDeviceService(devices, presence, hub, clipboardService)

	authHandler := NewAuthHandler(authService)
	clipboardHandler := NewClipboardHandler(clipboardService)
	deviceHandler := NewDeviceHandler(deviceService)
	uploadHandler := NewUploadHandler(clipboardService)
	wsHandler := NewWSHandler(hub, authService, clipboardService, 2*time.Second, []string{"*"})

	r := gin.New()
	api := r.Group("/api/v1")
	api.GET("/auth/public-key", authHandler.PublicKey)
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(authService))
	protected.POST("/auth/logout", authHandler.Logout)
	protected.POST("/auth/key-exchange", authHandler.KeyExchange)
	protected.GET("/auth/profile", authHandler.Profile)
	protected.POST("/clipboard", clipboardHandler.Add)
	protected.POST("/clipboard/upload", uploadHandler.Upload)
	protected.GET("/clipboard", clipboardHandler.List)
	protected.GET("/clipboard/latest", clipboardHandler.Latest)
	protected.GET("/clipboard/stats", clipboardHandler.Stats)
	protected.GET("/clipboard/:id", clipboardHandler.Get)
	protected.DELETE("/clipboard/:id", clipboardHandler.Delete)
	protected.DELETE("/clipboard", clipboardHandler.Clear)
	protected.GET("/devices", deviceHandler.List)
	protected.GET("/devices/stats", deviceHandler.Stats)
	protected.GET("/devices/:id/status", deviceHandler.Status)
	protected.PUT("/devices/:id", deviceHandler.Update)
	protected.DELETE("/devices/:id", deviceHandler.Delete)
	protected.DELETE("/devices/:id/clips", deviceHandler.Purge)
	r.GET("/ws", wsHandler.HandleWebSocket)

	t.Cleanup(func() {
		hub.CloseAll()
		cancel()
		_ = bridge.Close()
		_ = rdb.Close()
	})
	return &testServer{mr: mr, router: r, hub: hub, keys: keys, clips: clipboardService}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// signup registers username (once) and logs in from deviceID
func (s *testServer) signup(t *testing.T, username, deviceID string) *model.LoginResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/register", "", model.RegisterRequest{Username: username, Password: "secret123"})
	require.Contains(t, []int{http.StatusCreated, http.StatusConflict}, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{
		Username:   username,
		Password:   "secret123",
		DeviceInfo: model.DeviceInfo{DeviceID: deviceID, Label: deviceID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[model.LoginResponse](t, w)
	return &resp
}
