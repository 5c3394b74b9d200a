package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/scythe504/planning-poker-backend/internal"
	"github.com/scythe504/planning-poker-backend/internal/auth"
	"github.com/scythe504/planning-poker-backend/internal/env"
	"github.com/scythe504/planning-poker-backend/internal/store"
	"github.com/scythe504/planning-poker-backend/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoom = "azul-squad-17"

func testConfig() env.EnvValue {
	cfg := env.Read(func(string) string { return "" })
	cfg.JWTKey = "test-secret"
	cfg.PublicBaseURL = "https://poker.example.com"
	cfg.AllowedOrigin = "https://poker.example.com"
	return cfg
}

type envelope struct {
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
}

func do(t *testing.T, h http.Handler, method, target, body string, header http.Header) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") && rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	}
	return rr, resp
}

func TestHelloWorldHandler(t *testing.T) {
	s := New(testConfig(), store.NewMemoryStore())
	rr, _ := do(t, s.RegisterRoutes(), http.MethodGet, "/", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Hello World"}`, rr.Body.String())
}

func TestHealthHandler(t *testing.T) {
	s := New(testConfig(), store.NewMemoryStore())
	rr, resp := do(t, s.RegisterRoutes(), http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"up","store":"memory"}`, string(resp.Data))
}

func TestNewRoomHandler(t *testing.T) {
	s := New(testConfig(), store.NewMemoryStore())
	rr, resp := do(t, s.RegisterRoutes(), http.MethodGet, "/rooms/new", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var data newRoomData
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.True(t, utils.IsValidRoomID(data.RoomID), data.RoomID)
	assert.Equal(t, "https://poker.example.com/room/"+data.RoomID, data.ShareURL)
	assert.Equal(t, "https://poker.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

type unreachableStore struct {
	store.RoomStore
}

func (unreachableStore) Get(context.Context, string) ([]byte, error) {
	return nil, store.ErrNetwork
}

func TestGetRoomHandler(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	room := internal.NewRoom("U1", time.Now())
	room.StoryName = "Search"
	room.Participants["U1"] = internal.NewParticipant("U1", "Ana", time.Now())
	require.NoError(t, s.Set(ctx, store.RoomPath(testRoom), room))

	tests := []struct {
		name   string
		store  store.RoomStore
		room   string
		status int
		want   *roomInfoData
	}{
		{
			name:   "existing",
			store:  s,
			room:   testRoom,
			status: http.StatusOK,
			want: &roomInfoData{
				RoomID:       testRoom,
				Exists:       true,
				Participants: 1,
				StoryName:    "Search",
				ShareURL:     "https://poker.example.com/room/" + testRoom,
			},
		},
		{
			name:   "missing",
			store:  s,
			room:   "verde-crew-3",
			status: http.StatusNotFound,
			want: &roomInfoData{
				RoomID:   "verde-crew-3",
				ShareURL: "https://poker.example.com/room/verde-crew-3",
			},
		},
		{name: "invalid id", store: s, room: "Not_A_Room", status: http.StatusBadRequest},
		{name: "store down", store: unreachableStore{}, room: testRoom, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(testConfig(), tt.store)
			target := "/rooms/" + tt.room
			rr, resp := do(t, srv.RegisterRoutes(), http.MethodGet, target, "", nil)

			assert.Equal(t, tt.status, rr.Code)
			if tt.want != nil {
				var got roomInfoData
				require.NoError(t, json.Unmarshal(resp.Data, &got))
				assert.Equal(t, *tt.want, got)
			}
		})
	}
}

func TestDevLoginHandler(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := New(testConfig(), store.NewMemoryStore())
		rr, _ := do(t, s.RegisterRoutes(), http.MethodPost, "/auth/dev-login", `{}`, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("issues a verifiable token", func(t *testing.T) {
		cfg := testConfig()
		cfg.DevAuth = true
		s := New(cfg, store.NewMemoryStore())

		rr, resp := do(t, s.RegisterRoutes(), http.MethodPost, "/auth/dev-login",
			`{"name":"  Ana Lopez ","email":"ana@example.com"}`, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var data devLoginData
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		assert.NotEmpty(t, data.Identity.UID)
		assert.Equal(t, "Ana Lopez", data.Identity.DisplayName)

		id, err := s.provider.Verify(context.Background(), data.Token)
		require.NoError(t, err)
		assert.Equal(t, data.Identity, id)
	})

	t.Run("empty body", func(t *testing.T) {
		cfg := testConfig()
		cfg.DevAuth = true
		s := New(cfg, store.NewMemoryStore())

		rr, _ := do(t, s.RegisterRoutes(), http.MethodPost, "/auth/dev-login", "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("bad body", func(t *testing.T) {
		cfg := testConfig()
		cfg.DevAuth = true
		s := New(cfg, store.NewMemoryStore())

		rr, _ := do(t, s.RegisterRoutes(), http.MethodPost, "/auth/dev-login", "{", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("no signing key", func(t *testing.T) {
		cfg := testConfig()
		cfg.DevAuth = true
		cfg.JWTKey = ""
		s := New(cfg, store.NewMemoryStore())

		rr, _ := do(t, s.RegisterRoutes(), http.MethodPost, "/auth/dev-login", `{}`, nil)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestTimeoutNoticeHandler(t *testing.T) {
	s := New(testConfig(), store.NewMemoryStore())
	h := s.RegisterRoutes()

	token, err := s.provider.Issue(auth.Identity{UID: "U2"}, time.Now())
	require.NoError(t, err)
	header := http.Header{"Authorization": {"Bearer " + token}}

	at := time.UnixMilli(1_700_000_000_000)
	s.notices.Record("U2", at)

	rr, resp := do(t, h, http.MethodGet, "/auth/timeout-notice", "", header)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"logged_out_by_timeout":true,"at_ms":1700000000000}`, string(resp.Data))

	// Read once.
	_, resp = do(t, h, http.MethodGet, "/auth/timeout-notice?token="+token, "", nil)
	assert.JSONEq(t, `{"logged_out_by_timeout":false}`, string(resp.Data))

	rr, _ = do(t, h, http.MethodGet, "/auth/timeout-notice", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := New(testConfig(), store.NewMemoryStore())
	rr, _ := do(t, s.RegisterRoutes(), http.MethodOptions, "/auth/timeout-notice", "", nil)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://poker.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestShutdownCancelsPendingCleanups(t *testing.T) {
	s := New(testConfig(), store.NewMemoryStore())
	s.cleanup.Schedule(testRoom)
	s.cleanup.Schedule("verde-crew-3")

	assert.Equal(t, 2, s.Shutdown(context.Background()))
	assert.Zero(t, s.Shutdown(context.Background()))
}
