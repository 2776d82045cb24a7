package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()

	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// The register channel is unbuffered, so the dial alone does not
	// guarantee registration completed. Give Run a moment to pick it up.
	time.Sleep(20 * time.Millisecond)

	return hub, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decoding event %q: %v", payload, err)
	}
	return event
}

func TestThumbnailsReadyReachesClient(t *testing.T) {
	hub, conn := newTestHub(t)

	hub.ThumbnailsReady("/photos/a.jpg", "/thumbs/x_320.jpg", "/thumbs/x_640.jpg")

	event := readEvent(t, conn)
	if event.Type != EventThumbnailsReady {
		t.Errorf("type = %q, want %q", event.Type, EventThumbnailsReady)
	}
	if event.ID != "/photos/a.jpg" {
		t.Errorf("id = %q", event.ID)
	}
	if event.BaseURL != "/thumbs/x_320.jpg" || event.RetinaURL != "/thumbs/x_640.jpg" {
		t.Errorf("urls = %q, %q", event.BaseURL, event.RetinaURL)
	}
	if event.Timestamp == 0 {
		t.Error("timestamp not stamped")
	}
}

func TestRatingsRefreshedReachesClient(t *testing.T) {
	hub, conn := newTestHub(t)

	hub.RatingsRefreshed(map[string]int{"/photos/a.jpg": 5, "/photos/b.jpg": 0})

	event := readEvent(t, conn)
	if event.Type != EventRatingsRefreshed {
		t.Errorf("type = %q, want %q", event.Type, EventRatingsRefreshed)
	}
	if event.Ratings["/photos/a.jpg"] != 5 {
		t.Errorf("ratings = %v", event.Ratings)
	}
	if rating, ok := event.Ratings["/photos/b.jpg"]; !ok || rating != 0 {
		t.Errorf("cleared rating missing from event: %v", event.Ratings)
	}
}

func TestEmptyRatingsRefreshedIsDropped(t *testing.T) {
	hub, conn := newTestHub(t)

	hub.RatingsRefreshed(nil)
	hub.RatingsRefreshed(map[string]int{})

	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, payload, err := conn.ReadMessage(); err == nil {
		t.Errorf("received unexpected event: %s", payload)
	}
}
