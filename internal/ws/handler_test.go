package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain"
)

type tokenAuth map[string]*domain.User

func (a tokenAuth) Authenticate(_ context.Context, token string) (*domain.User, error) {
	u, ok := a[token]
	if !ok {
		return nil, errors.New("bad token")
	}
	return u, nil
}

func TestExtractTokenFromWSRequest(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(r *http.Request)
		want    string
		wantErr bool
	}{
		{
			name:    "authorization header",
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			want:    "abc",
		},
		{
			name:    "subprotocol",
			prepare: func(r *http.Request) { r.Header.Set("Sec-WebSocket-Protocol", "bearer, xyz") },
			want:    "xyz",
		},
		{
			name:    "query parameter",
			prepare: func(r *http.Request) { r.URL.RawQuery = "access_token=q1" },
			want:    "q1",
		},
		{
			name:    "missing",
			prepare: func(r *http.Request) {},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tt.prepare(r)
			got, err := extractTokenFromWSRequest(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMakeCheckOrigin(t *testing.T) {
	check := makeCheckOrigin([]string{"http://localhost:3000"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "http://LOCALHOST:3000")
	assert.True(t, check(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(r))

	r.Header.Del("Origin")
	assert.False(t, check(r))

	assert.True(t, makeCheckOrigin([]string{"*"})(r))
	assert.False(t, makeCheckOrigin(nil)(r))
}

func TestHandler_EndToEnd(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	auth := tokenAuth{"good": alice}
	h := MakeHandler(auth, f.d, nil, HandlerConfig{AllowedOrigins: []string{"http://localhost:3000"}})

	srv := httptest.NewServer(h)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{}
	header.Set("Origin", "http://localhost:3000")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?access_token=bad", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other := http.Header{}
	other.Set("Origin", "http://evil.example")
	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?access_token=good", other)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?access_token=good", header)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame(t, CmdJoinUserGroup, "r1", nil)))

	ack := readUntil(t, conn, EvtAck)
	assert.Equal(t, "r1", ack.RequestID)
	assert.Eventually(t, func() bool { return f.presence.IsOnline(alice.ID) }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !f.presence.IsOnline(alice.ID) }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.registry.ConnectionCount(alice.ID))
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}
