package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/dinematch/internal/auth"
	"github.com/xiaot623/dinematch/internal/config"
	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/hub"
	"github.com/xiaot623/dinematch/internal/ledger"
	"github.com/xiaot623/dinematch/internal/protocol"
	"github.com/xiaot623/dinematch/internal/service"
	"github.com/xiaot623/dinematch/internal/testutil"
)

type harness struct {
	url       string
	auth      *auth.Authenticator
	sessionID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Defaults()
	cfg.StoreRetryDelay = testutil.FastRetry.Delay
	h := hub.NewHub()
	go h.Run(ctx)

	svc := service.New(testutil.NewSQLiteStore(t), ledger.NewMemory(), testutil.NewPolicy(t), cfg, service.WithBroadcaster(h))
	authenticator, err := auth.NewAuthenticator("secret", "")
	require.NoError(t, err)

	e := echo.New()
	NewServer(cfg, h, svc, authenticator, zap.NewNop()).RegisterRoutes(e)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	_, err = svc.UpsertMembers(ctx, "g1", "alice", service.RosterRequest{Members: []service.RosterEntry{{UserID: "bob"}}})
	require.NoError(t, err)
	session, err := svc.StartSession(ctx, "alice", service.StartSessionRequest{GroupID: "g1", MaxMatches: 1})
	require.NoError(t, err)
	_, err = svc.AppendCandidates(ctx, session.SessionID, "alice", service.CandidatesRequest{
		Restaurants: []service.CandidateEntry{{ID: "x", Name: "Noodle Bar"}, {ID: "y", Name: "Taqueria"}},
	})
	require.NoError(t, err)

	return &harness{
		url:       "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		auth:      authenticator,
		sessionID: session.SessionID,
	}
}

func (h *harness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := h.auth.Issue(userID, time.Minute)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(h.url+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first message of type msgType, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == msgType {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestWebSocketRequiresToken(t *testing.T) {
	h := newHarness(t)
	_, resp, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(h.url+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketSwipeToMatch(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	send(t, alice, map[string]string{"type": protocol.TypeJoinSession, "session_id": h.sessionID, "request_id": "j1"})
	joined := readUntil(t, alice, protocol.TypeJoined)
	assert.Equal(t, "j1", joined["request_id"])
	state := joined["state"].(map[string]interface{})
	assert.Equal(t, "active", state["status"])
	assert.Equal(t, 2.0, state["member_count"])

	send(t, bob, map[string]string{"type": protocol.TypeJoinSession, "session_id": h.sessionID})
	readUntil(t, bob, protocol.TypeJoined)
	presence := readUntil(t, alice, string(domain.EventTypePresence))
	data := presence["data"].(map[string]interface{})
	assert.Equal(t, 2.0, data["total_members"])

	send(t, alice, map[string]string{
		"type": protocol.TypeSwipe, "session_id": h.sessionID, "request_id": "s1",
		"restaurant_id": "x", "direction": "right",
	})
	ack := readUntil(t, alice, protocol.TypeSwipeAck)
	assert.Equal(t, "s1", ack["request_id"])
	assert.Equal(t, false, ack["duplicate"])

	progress := readUntil(t, bob, string(domain.EventTypeVoteProgress))
	data = progress["data"].(map[string]interface{})
	assert.Equal(t, 1.0, data["votes"])
	assert.Equal(t, 2.0, data["total_members"])
	assert.NotContains(t, data, "voters")

	send(t, bob, map[string]string{
		"type": protocol.TypeSwipe, "session_id": h.sessionID, "restaurant_id": "x", "direction": "right",
	})
	for _, conn := range []*websocket.Conn{alice, bob} {
		found := readUntil(t, conn, string(domain.EventTypeMatchFound))
		data := found["data"].(map[string]interface{})
		assert.Equal(t, []interface{}{"alice", "bob"}, data["voters"])
		restaurant := data["restaurant"].(map[string]interface{})
		assert.Equal(t, "Noodle Bar", restaurant["name"])

		complete := readUntil(t, conn, string(domain.EventTypeSessionComplete))
		matches := complete["data"].(map[string]interface{})["matches"].([]interface{})
		assert.Len(t, matches, 1)
	}

	send(t, alice, map[string]string{
		"type": protocol.TypeSwipe, "session_id": h.sessionID, "request_id": "s2",
		"restaurant_id": "y", "direction": "right",
	})
	errMsg := readUntil(t, alice, protocol.TypeError)
	assert.Equal(t, "s2", errMsg["request_id"])
	assert.Equal(t, domain.ErrorCodeSessionNotActive, errMsg["code"])
}

func TestWebSocketRejectsOutsidersAndBadMessages(t *testing.T) {
	h := newHarness(t)
	mallory := h.dial(t, "mallory")

	send(t, mallory, map[string]string{"type": protocol.TypeJoinSession, "session_id": h.sessionID})
	errMsg := readUntil(t, mallory, protocol.TypeError)
	assert.Equal(t, domain.ErrorCodeNotAMember, errMsg["code"])

	send(t, mallory, map[string]string{
		"type": protocol.TypeSwipe, "session_id": h.sessionID, "restaurant_id": "x", "direction": "right",
	})
	errMsg = readUntil(t, mallory, protocol.TypeError)
	assert.Equal(t, domain.ErrorCodeNotAMember, errMsg["code"])

	require.NoError(t, mallory.WriteMessage(websocket.TextMessage, []byte("{")))
	errMsg = readUntil(t, mallory, protocol.TypeError)
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, errMsg["code"])

	send(t, mallory, map[string]string{"type": "dance", "session_id": h.sessionID})
	errMsg = readUntil(t, mallory, protocol.TypeError)
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, errMsg["code"])

	send(t, mallory, map[string]string{"type": protocol.TypeSwipe, "session_id": h.sessionID, "restaurant_id": "x", "direction": "up"})
	errMsg = readUntil(t, mallory, protocol.TypeError)
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, errMsg["code"])
}

func TestWebSocketLeave(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")

	send(t, alice, map[string]string{"type": protocol.TypeLeaveSession, "session_id": h.sessionID})
	errMsg := readUntil(t, alice, protocol.TypeError)
	assert.Equal(t, protocol.ErrorCodeSessionRequired, errMsg["code"])

	send(t, alice, map[string]string{"type": protocol.TypeJoinSession, "session_id": h.sessionID})
	readUntil(t, alice, protocol.TypeJoined)
	send(t, alice, map[string]string{"type": protocol.TypeLeaveSession, "session_id": h.sessionID, "request_id": "l1"})
	left := readUntil(t, alice, protocol.TypeLeft)
	assert.Equal(t, "l1", left["request_id"])
}
