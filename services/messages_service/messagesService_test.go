package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alimx07/Social_Feed_Backend/services/messages_service/models"
	shardrepo "github.com/alimx07/Social_Feed_Backend/services/messages_service/shardRepo"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type listCall struct {
	chatKey       string
	after         float64
	limit, offset int
}

type memMessages struct {
	created []models.Message
	lists   []listCall
	err     error
}

func (m *memMessages) Create(_ context.Context, chatKey string, authorId int64, text string) (models.Message, error) {
	if m.err != nil {
		return models.Message{}, m.err
	}
	msg := models.Message{Id: fmt.Sprintf("m-%d", len(m.created)+1), ChatKey: chatKey, AuthorId: authorId, Text: text, Created: 1}
	m.created = append(m.created, msg)
	return msg, nil
}

func (m *memMessages) Get(_ context.Context, id, chatKey string) (models.Message, error) {
	for _, msg := range m.created {
		if msg.Id == id && msg.ChatKey == chatKey {
			return msg, nil
		}
	}
	return models.Message{}, models.ErrNotFound
}

func (m *memMessages) List(_ context.Context, chatKey string, after float64, limit, offset int) ([]models.Message, error) {
	m.lists = append(m.lists, listCall{chatKey, after, limit, offset})
	if m.err != nil {
		return nil, m.err
	}
	out := []models.Message{}
	for _, msg := range m.created {
		if msg.ChatKey == chatKey {
			out = append(out, msg)
		}
	}
	return out, nil
}

type knownUsers map[int64]bool

func (u knownUsers) Exists(_ context.Context, id int64) error {
	if !u[id] {
		return fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	return nil
}

type testService struct {
	ms       *messagesService
	messages *memMessages
	priv     ed25519.PrivateKey
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth, err := newTokenValidator(base64.StdEncoding.EncodeToString(pub), "users_service", "api_gateway")
	require.NoError(t, err)

	messages := &memMessages{}
	config := models.Config{PageLimit: 20}
	ms := NewMessagesService(messages, knownUsers{3: true, 7: true}, auth, nil, config, zap.NewNop())
	ms.drainWait = 0
	return &testService{ms: ms, messages: messages, priv: priv}
}

func (ts *testService) token(t *testing.T, userId int64) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.RegisteredClaims{
		Subject:   fmt.Sprint(userId),
		Issuer:    "users_service",
		Audience:  jwt.ClaimStrings{"api_gateway"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(ts.priv)
	require.NoError(t, err)
	return signed
}

func (ts *testService) do(method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.ms.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateMessage(t *testing.T) {
	ts := newTestService(t)

	rec := ts.do(http.MethodPost, "/messages/", `{"to_user_id": 3, "text": " hello "}`, ts.token(t, 7))
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "3:7", msg.ChatKey)
	assert.Equal(t, int64(7), msg.AuthorId)
	assert.Equal(t, "hello", msg.Text)
}

func TestCreateMessage_BothDirectionsShareAChat(t *testing.T) {
	ts := newTestService(t)

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/messages/", `{"to_user_id": 3, "text": "hi"}`, ts.token(t, 7)).Code)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/messages/", `{"to_user_id": 7, "text": "hey"}`, ts.token(t, 3)).Code)

	require.Len(t, ts.messages.created, 2)
	assert.Equal(t, ts.messages.created[0].ChatKey, ts.messages.created[1].ChatKey)
}

func TestCreateMessage_Rejects(t *testing.T) {
	ts := newTestService(t)
	tests := []struct {
		name   string
		body   string
		token  string
		status int
	}{
		{name: "no token", body: `{"to_user_id": 3, "text": "hi"}`, status: http.StatusUnauthorized},
		{name: "garbage token", body: `{"to_user_id": 3, "text": "hi"}`, token: "abc.def.ghi", status: http.StatusUnauthorized},
		{name: "bad json", body: `{`, token: ts.token(t, 7), status: http.StatusBadRequest},
		{name: "empty text", body: `{"to_user_id": 3, "text": "  "}`, token: ts.token(t, 7), status: http.StatusBadRequest},
		{name: "unknown user", body: `{"to_user_id": 99, "text": "hi"}`, token: ts.token(t, 7), status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/messages/", tt.body, tt.token)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Empty(t, ts.messages.created)
}

func TestCreateMessage_ShardFailureIsUnavailable(t *testing.T) {
	ts := newTestService(t)
	ts.messages.err = fmt.Errorf("table messages: %w", shardrepo.ErrShardRoutingInconsistency)

	rec := ts.do(http.MethodPost, "/messages/", `{"to_user_id": 3, "text": "hi"}`, ts.token(t, 7))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListMessages(t *testing.T) {
	ts := newTestService(t)

	rec := ts.do(http.MethodGet, "/messages/?to_user_id=3&after_timestamp=1700000000.5&page=2&paginate_by=5", "", ts.token(t, 7))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []listCall{{chatKey: "3:7", after: 1700000000.5, limit: 5, offset: 5}}, ts.messages.lists)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(http.MethodGet, "/messages/?to_user_id=x", "", ts.token(t, 7))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodGet, "/messages/?to_user_id=3&after_timestamp=-1", "", ts.token(t, 7))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestService(t)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "", "").Code)
	ts.ms.close()
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodGet, "/health", "", "").Code)
}
