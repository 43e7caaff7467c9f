package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salahguard/internal/core"
)

func readEvent(t *testing.T, hub *Hub) Event {
	t.Helper()
	select {
	case payload := <-hub.broadcast:
		var ev Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		return ev
	default:
		t.Fatal("no event queued")
		return Event{}
	}
}

func TestUnlockCompletedPublishesEvent(t *testing.T) {
	hub := NewHub(nil)
	f := NewFanout(hub, nil, nil)
	at := time.Date(2025, 6, 10, 13, 40, 0, 0, time.UTC)

	f.UnlockCompleted(core.PrayerDhuhr, core.CompletionPinVerified, at)

	ev := readEvent(t, hub)
	assert.Equal(t, "unlock", ev.Type)
	assert.Equal(t, core.PrayerDhuhr, ev.Prayer)
	assert.Equal(t, core.CompletionPinVerified, ev.CompletionType)
	assert.True(t, ev.At.Equal(at))
}

func TestEventTypes(t *testing.T) {
	hub := NewHub(nil)
	f := NewFanout(hub, nil, nil)
	at := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)

	f.PrayerReminder(core.PrayerAsr, at)
	assert.Equal(t, "reminder", readEvent(t, hub).Type)

	f.Adhan(core.PrayerAsr, at)
	assert.Equal(t, "adhan", readEvent(t, hub).Type)

	f.LockActivated(core.PrayerAsr, at)
	assert.Equal(t, "lock", readEvent(t, hub).Type)

	f.BypassDetected(core.PrayerAsr, at)
	assert.Equal(t, "bypass", readEvent(t, hub).Type)
}

func TestFanoutWithoutHub(t *testing.T) {
	f := NewFanout(nil, nil, nil)
	// Publishing without any channel configured must not panic.
	f.LockActivated(core.PrayerFajr, time.Now())
}

func TestBroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < 300; i++ {
		hub.Broadcast([]byte(`{"type":"lock"}`))
	}
}

func TestHubDeliversToWebSocketClient(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the registration to land before broadcasting.
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	hub.Broadcast([]byte(`{"type":"lock","prayer":"Dhuhr"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, "lock", ev.Type)
	assert.Equal(t, core.PrayerDhuhr, ev.Prayer)
}
