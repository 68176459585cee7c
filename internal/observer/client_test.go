package observer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"logging_proxy/internal/models"

	"github.com/gorilla/websocket"
)

// newStreamServer pushes events to every connection and then closes it.
func newStreamServer(t *testing.T, events []models.LogEvent, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotAuth != nil {
			gotAuth <- r.Header.Get("Authorization")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

var streamed = []models.LogEvent{
	{EventID: "1", Type: models.EventInfo, Message: "[GET] a/ -> t"},
	{EventID: "2", Type: models.EventError, Message: "connection reset"},
	{EventID: "3", Type: models.EventError, Message: "Error proxying [GET] a/ -> t: refused"},
}

func TestClient_Run(t *testing.T) {
	tests := []struct {
		name string
		all  bool
		want []string
	}{
		{name: "display predicate", all: false, want: []string{"1", "3"}},
		{name: "all events", all: true, want: []string{"1", "2", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newStreamServer(t, streamed, nil)
			c := &Client{URL: wsURL(srv), All: tt.all}

			var got []string
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.Run(ctx, func(ev models.LogEvent) { got = append(got, ev.EventID) }); err != nil {
				t.Fatalf("run: %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("got %v; want %v", got, tt.want)
			}
		})
	}
}

func TestClient_SendsBearerToken(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := newStreamServer(t, nil, gotAuth)
	c := &Client{URL: wsURL(srv), Token: "tok"}

	if err := c.Run(context.Background(), func(models.LogEvent) {}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h := <-gotAuth; h != "Bearer tok" {
		t.Fatalf("Authorization = %q", h)
	}
}

func TestClient_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := (&Client{URL: wsURL(srv)}).Run(context.Background(), func(models.LogEvent) {})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected dial error with status, got %v", err)
	}
}

func TestFormatLine(t *testing.T) {
	ev := models.LogEvent{
		OccurredAt: time.Now(),
		Type:       models.EventInfo,
		Message:    "[POST] a/x -> t",
		Body:       map[string]any{"k": "v"},
	}
	line := FormatLine(ev)
	if !strings.Contains(line, "INFO [POST] a/x -> t") || !strings.HasSuffix(line, `{"k":"v"}`) {
		t.Fatalf("unexpected line %q", line)
	}
}
