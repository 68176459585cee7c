// Package observer follows the dashboard's websocket event stream from the
// terminal.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"logging_proxy/internal/models"

	"github.com/gorilla/websocket"
)

const handshakeTimeout = 10 * time.Second

// Client connects to a /ws endpoint and hands displayable events to a callback.
type Client struct {
	URL   string
	Token string
	// All disables the display predicate and passes every event through.
	All bool

	Dialer *websocket.Dialer
}

// Run reads events until ctx is canceled or the server closes the stream.
// A normal or going-away close is not an error.
func (c *Client) Run(ctx context.Context, handle func(models.LogEvent)) error {
	dialer := c.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment}
	}
	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.URL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		var ev models.LogEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			return fmt.Errorf("read event: %w", err)
		}
		if c.All || models.ShouldDisplay(ev) {
			handle(ev)
		}
	}
}

// FormatLine renders ev as a single terminal line, appending the decoded body
// as compact JSON when present.
func FormatLine(ev models.LogEvent) string {
	var b strings.Builder
	b.WriteString(ev.OccurredAt.Local().Format(time.TimeOnly))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(string(ev.Type)))
	b.WriteByte(' ')
	b.WriteString(ev.Message)
	if ev.Body != nil {
		if raw, err := json.Marshal(ev.Body); err == nil {
			b.WriteByte(' ')
			b.Write(raw)
		}
	}
	return b.String()
}
