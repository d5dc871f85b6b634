package httpserver_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chatcore/internal/config"
	"chatcore/internal/httpserver"
	"chatcore/internal/security"
	"chatcore/internal/service"
	"chatcore/internal/store"
	"chatcore/internal/store/sqlite"
)

type apiFixture struct {
	srv *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	users := store.NewUserRepo(db)
	auth := service.NewAuthService(users, security.NewTokenService("test-secret", time.Hour), security.NewPasswordHasher(bcrypt.MinCost))
	chats := service.NewChatService(
		store.NewChatRepo(db),
		store.NewParticipantRepo(db),
		store.NewMessageRepo(db),
		users,
		service.ChatConfig{},
	)

	router := httpserver.NewRouter(httpserver.Deps{
		Config: &config.Config{AppName: "test", CORSOrigins: []string{"*"}},
		Auth:   auth,
		Users:  service.NewUserService(users),
		Chats:  chats,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

// register creates a user and returns its id and token.
func (f *apiFixture) register(t *testing.T, username string) (int64, string) {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var tok service.TokenResponse
	require.NoError(t, json.Unmarshal(body, &tok))
	require.NotEmpty(t, tok.AccessToken)
	return tok.User.ID, tok.AccessToken
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))
}

func TestAuthFlow(t *testing.T) {
	f := newAPIFixture(t)
	id, token := f.register(t, "alice")

	resp, body := f.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me service.UserView
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, id, me.ID)
	assert.Equal(t, "alice", me.Name)

	// Only a live realtime connection lists a user as online.
	resp, body = f.do(t, http.MethodGet, "/api/users/online", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = f.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	aliceID, aliceTok := f.register(t, "alice")
	bobID, bobTok := f.register(t, "bob")
	_, eveTok := f.register(t, "eve")

	resp, body := f.do(t, http.MethodPost, "/api/chats/private", aliceTok, map[string]int64{"user_id": bobID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var chat service.ChatView
	require.NoError(t, json.Unmarshal(body, &chat))
	assert.Equal(t, "bob", chat.Name)
	assert.False(t, chat.IsGroup)

	// The same pair resolves to the same chat from either side.
	resp, body = f.do(t, http.MethodPost, "/api/chats/private", bobTok, map[string]int64{"user_id": aliceID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var again service.ChatView
	require.NoError(t, json.Unmarshal(body, &again))
	assert.Equal(t, chat.ID, again.ID)
	assert.Equal(t, "alice", again.Name)

	chatPath := fmt.Sprintf("/api/chats/%d", chat.ID)
	resp, _ = f.do(t, http.MethodGet, chatPath, eveTok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, body = f.do(t, http.MethodGet, chatPath+"/messages", eveTok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
	resp, _ = f.do(t, http.MethodGet, "/api/chats/999999", aliceTok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/chats/abc", aliceTok, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/chats", bobTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []service.ChatView
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, chat.ID, list[0].ID)

	resp, body = f.do(t, http.MethodPost, chatPath+"/read", bobTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, fmt.Sprintf(`{"chat_id":%d,"count":0}`, chat.ID), string(body))
}

func TestGroupManagement(t *testing.T) {
	f := newAPIFixture(t)
	_, ownerTok := f.register(t, "owner")
	memberID, memberTok := f.register(t, "member")
	newcomerID, _ := f.register(t, "newcomer")

	resp, body := f.do(t, http.MethodPost, "/api/chats", ownerTok, map[string]any{
		"name":            "Team",
		"is_group":        true,
		"participant_ids": []int64{memberID},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var chat service.ChatView
	require.NoError(t, json.Unmarshal(body, &chat))
	assert.Len(t, chat.Participants, 2)
	chatPath := fmt.Sprintf("/api/chats/%d", chat.ID)

	resp, _ = f.do(t, http.MethodPost, chatPath+"/participants", memberTok, map[string]int64{"user_id": newcomerID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, chatPath+"/participants", ownerTok, map[string]int64{"user_id": newcomerID})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, chatPath+"/participants", ownerTok, map[string]int64{"user_id": newcomerID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	rolePath := fmt.Sprintf("%s/participants/%d/role", chatPath, memberID)
	resp, _ = f.do(t, http.MethodPut, rolePath, ownerTok, map[string]string{"role": "admin"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPut, rolePath, ownerTok, map[string]string{"role": "owner"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPatch, chatPath, memberTok, map[string]string{"name": "Renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated service.ChatView
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "Renamed", updated.Name)

	resp, _ = f.do(t, http.MethodDelete, fmt.Sprintf("%s/participants/%d", chatPath, newcomerID), memberTok, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestUpdateProfile(t *testing.T) {
	f := newAPIFixture(t)
	aliceID, aliceTok := f.register(t, "alice")
	_, bobTok := f.register(t, "bob")

	resp, body := f.do(t, http.MethodPatch, "/api/users/me", aliceTok, map[string]string{
		"name":            "Alice Silva",
		"status":          "  Busy  ",
		"profile_picture": "https://img.example.com/alice.png",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var me service.UserView
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, "Alice Silva", me.Name)
	require.NotNil(t, me.Status)
	assert.Equal(t, "Busy", *me.Status)
	require.NotNil(t, me.ProfilePicture)

	resp, body = f.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", aliceID), bobTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var seen service.UserView
	require.NoError(t, json.Unmarshal(body, &seen))
	assert.Equal(t, "Alice Silva", seen.Name)
	assert.Equal(t, me.ProfilePicture, seen.ProfilePicture)
	assert.Empty(t, seen.Email)

	// Chat views pick up the new name and picture.
	resp, body = f.do(t, http.MethodPost, "/api/chats/private", bobTok, map[string]int64{"user_id": aliceID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chat service.ChatView
	require.NoError(t, json.Unmarshal(body, &chat))
	assert.Equal(t, "Alice Silva", chat.Name)
	var pictured bool
	for _, p := range chat.Participants {
		if p.ID == aliceID {
			pictured = p.ProfilePicture != nil && *p.ProfilePicture == *me.ProfilePicture
		}
	}
	assert.True(t, pictured)

	// Omitted optional fields are cleared.
	resp, body = f.do(t, http.MethodPatch, "/api/users/me", aliceTok, map[string]string{"name": "Alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cleared service.UserView
	require.NoError(t, json.Unmarshal(body, &cleared))
	assert.Nil(t, cleared.Status)
	assert.Nil(t, cleared.ProfilePicture)

	resp, _ = f.do(t, http.MethodPatch, "/api/users/me", aliceTok, map[string]string{"name": "A"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPatch, "/api/users/me", "", map[string]string{"name": "Alice"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
