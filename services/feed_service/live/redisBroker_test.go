package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBroker(t *testing.T) (*miniredis.Miniredis, *RedisBroker) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { r.Close() })
	return mr, NewRedisBroker(r)
}

func numSub(mr *miniredis.Miniredis, userId int64) int {
	return mr.PubSubNumSub(channel(userId))[channel(userId)]
}

func TestRedisBroker_LastDisconnectReleasesChannel(t *testing.T) {
	ctx := context.Background()
	mr, broker := newTestBroker(t)
	b := NewBridge(broker, zap.NewNop())

	c1, c2 := newFakeConn(), newFakeConn()
	require.NoError(t, b.Connect(ctx, 9, c1))
	require.NoError(t, b.Connect(ctx, 9, c2))
	assert.Equal(t, 1, numSub(mr, 9))

	require.NoError(t, broker.Publish(ctx, 9, []byte(`{"id":"e1"}`)))
	assert.Equal(t, `{"id":"e1"}`, receive(t, c1))
	assert.Equal(t, `{"id":"e1"}`, receive(t, c2))

	b.Disconnect(9, c1)
	b.Disconnect(9, c2)
	assert.Eventually(t, func() bool { return numSub(mr, 9) == 0 }, time.Second, 10*time.Millisecond)

	require.NoError(t, broker.Publish(ctx, 9, []byte(`{"id":"e2"}`)))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, c1.got)
	assert.Empty(t, c2.got)
}

func TestRedisBroker_ChannelsAreKeyedByUser(t *testing.T) {
	ctx := context.Background()
	_, broker := newTestBroker(t)

	sub, err := broker.Subscribe(ctx, 1)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, broker.Publish(ctx, 2, []byte("other")))
	require.NoError(t, broker.Publish(ctx, 1, []byte("mine")))

	select {
	case p := <-sub.Messages():
		assert.Equal(t, "mine", string(p))
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	_, open := <-sub.Messages()
	assert.False(t, open)
}

func TestServe_WebsocketReceivesLiveEvents(t *testing.T) {
	ctx := context.Background()
	mr, broker := newTestBroker(t)
	b := NewBridge(broker, zap.NewNop())

	upgrader := websocket.Upgrader{}
	served := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		userId, _ := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
		served <- Serve(r.Context(), b, userId, ws)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=9"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return b.Subscribed(9) }, time.Second, 10*time.Millisecond)
	require.NoError(t, broker.Publish(ctx, 9, []byte(`{"id":"e1"}`)))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"id":"e1"}`, string(msg))

	client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	client.Close()

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.False(t, b.Subscribed(9))
	assert.Eventually(t, func() bool { return numSub(mr, 9) == 0 }, time.Second, 10*time.Millisecond)
}
