package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/adminboard/pkg/observability"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub(nil, nil)
	board, cancelBoard := hub.Subscribe("board:main-board")
	defer cancelBoard()
	other, cancelOther := hub.Subscribe("collection:customers")
	defer cancelOther()

	hub.Publish(context.Background(), Event{Topic: "board:main-board", Type: TypeBoardUpdated})

	ev := recv(t, board)
	assert.Equal(t, TypeBoardUpdated, ev.Type)
	assert.NotZero(t, ev.At)
	assert.Empty(t, other)
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	hub := NewHub(m, nil)
	_, cancel := hub.Subscribe("t")
	assert.Equal(t, 1, hub.Subscribers("t"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RealtimeSubscribers))

	cancel()
	cancel()
	assert.Equal(t, 0, hub.Subscribers("t"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RealtimeSubscribers))
}

func TestHub_DropsForSlowSubscribers(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	hub := NewHub(m, nil)
	_, cancel := hub.Subscribe("t")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(context.Background(), Event{Topic: "t", Type: TypeUpdated})
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RealtimeDroppedMessages))
}

func TestHub_SubscribeFunc(t *testing.T) {
	hub := NewHub(nil, nil)
	got := make(chan Event, 1)
	cancel := hub.SubscribeFunc("t", func(ev Event) { got <- ev })
	defer cancel()

	hub.Publish(context.Background(), Event{Topic: "t", Type: TypeCreated, ID: "c1"})
	assert.Equal(t, "c1", recv(t, got).ID)
}

func TestHub_ServeSSE(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeSSE(w, r, "board:main-board")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return hub.Subscribers("board:main-board") == 1 }, time.Second, 10*time.Millisecond)
	hub.Publish(context.Background(), Event{Topic: "board:main-board", Type: TypeBoardUpdated, Data: json.RawMessage(`{"version":2}`)})

	var dataLine string
	for !strings.HasPrefix(dataLine, "data: ") {
		dataLine, err = reader.ReadString('\n')
		require.NoError(t, err)
	}
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(dataLine), "data: ")), &ev))
	assert.Equal(t, TypeBoardUpdated, ev.Type)
	assert.JSONEq(t, `{"version":2}`, string(ev.Data))
}

func TestRedisBridge_RelaysBetweenHubs(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { c.Close() })
		return c
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewHub(nil, nil)
	b := NewHub(nil, nil)
	a.AttachBridge(ctx, NewRedisBridge(newClient(), "test_events"))
	b.AttachBridge(ctx, NewRedisBridge(newClient(), "test_events"))

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("test_events")) == 1 && mr.PubSubNumSub("test_events")["test_events"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	chA, cancelA := a.Subscribe("collection:posts")
	defer cancelA()
	chB, cancelB := b.Subscribe("collection:posts")
	defer cancelB()

	a.Publish(ctx, Event{Topic: "collection:posts", Type: TypeCreated, ID: "p1"})

	assert.Equal(t, "p1", recv(t, chB).ID)
	assert.Equal(t, "p1", recv(t, chA).ID)

	// the origin hub ignores its own echo
	select {
	case ev := <-chA:
		t.Fatalf("unexpected duplicate %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStripData(t *testing.T) {
	payload, err := json.Marshal(Event{Topic: "t", Type: TypeUpdated, ID: "x", Data: json.RawMessage(`{"big":true}`)})
	require.NoError(t, err)

	stripped, err := stripData(payload)
	require.NoError(t, err)
	assert.NotContains(t, string(stripped), "big")
	assert.Contains(t, string(stripped), `"id":"x"`)
}
