package livefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHub_BroadcastsOnlyToMatchingOrganization(t *testing.T) {
	hub := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := r.URL.Query().Get("org")
		hub.ServeWS(w, r, org)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	connA, _, err := websocket.DefaultDialer.Dial(wsURL+"?org=acme", nil)
	if err != nil {
		t.Fatalf("dial acme: %v", err)
	}
	defer connA.Close()

	connB, _, err := websocket.DefaultDialer.Dial(wsURL+"?org=other", nil)
	if err != nil {
		t.Fatalf("dial other: %v", err)
	}
	defer connB.Close()

	// Give the hub's Run loop time to process both registrations.
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(RatingEventMessage{OrganizationID: "acme", MatchID: "m1", MuAfter: 1500})

	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := connA.ReadMessage()
	if err != nil {
		t.Fatalf("acme subscriber did not receive broadcast: %v", err)
	}
	if !strings.Contains(string(data), `"match_id":"m1"`) {
		t.Errorf("unexpected payload: %s", data)
	}

	connB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := connB.ReadMessage(); err == nil {
		t.Error("other-org subscriber should not have received the acme broadcast")
	}
}
