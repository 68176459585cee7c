package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"logging_proxy/internal/logger"
	"logging_proxy/internal/models"
	"logging_proxy/internal/service"

	"github.com/gin-gonic/gin"
)

type seenRequest struct {
	host          string
	forwardedFor  string
	forwardedHost string
	body          string
}

// newUpstream starts an echo server that records what it received.
func newUpstream(t *testing.T) (*httptest.Server, <-chan seenRequest) {
	t.Helper()
	seen := make(chan seenRequest, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- seenRequest{
			host:          r.Host,
			forwardedFor:  r.Header.Get("X-Forwarded-For"),
			forwardedHost: r.Header.Get("X-Forwarded-Host"),
			body:          string(body),
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("echo:" + string(body)))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func newProxy(t *testing.T, cfg Config, events Publisher) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := NewForwarder(cfg, events, logger.Nop(), nil)
	srv := httptest.NewServer(NewRouter(f, logger.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func nextEvent(t *testing.T, sub *service.Subscription) models.LogEvent {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for log event")
	}
	return models.LogEvent{}
}

func noMoreEvents(t *testing.T, sub *service.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestForwarder_JSONPost(t *testing.T) {
	upstream, seen := newUpstream(t)
	b := service.NewBroadcaster(16, nil)
	sub := b.Subscribe()
	proxySrv := newProxy(t, Config{
		Target:            mustParse(t, upstream.URL),
		TargetDescription: "echo service",
		PreserveHost:      true,
	}, b)

	payload := `{"user":"ada","tags":["a","b"],"n":1}`
	resp, err := http.Post(proxySrv.URL+"/submit?x=1", "application/json; charset=utf-8", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	got, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d; want 201", resp.StatusCode)
	}
	if string(got) != "echo:"+payload {
		t.Fatalf("response body altered: %q", got)
	}
	if up := <-seen; up.body != payload {
		t.Fatalf("upstream got %q; want %q", up.body, payload)
	}

	ev := nextEvent(t, sub)
	proxyHost := mustParse(t, proxySrv.URL).Host
	wantMsg := fmt.Sprintf("[POST] %s/submit?x=1 -> echo service", proxyHost)
	if ev.Type != models.EventInfo || ev.Message != wantMsg {
		t.Fatalf("event = %q (%s); want %q", ev.Message, ev.Type, wantMsg)
	}
	wantBody := map[string]any{"user": "ada", "tags": []any{"a", "b"}, "n": float64(1)}
	if !reflect.DeepEqual(ev.Body, wantBody) {
		t.Fatalf("decoded body = %#v; want %#v", ev.Body, wantBody)
	}
	noMoreEvents(t, sub)
}

func TestForwarder_UnstructuredBodyHasNoDecodedValue(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "plain text", contentType: "text/plain", body: "hello"},
		{name: "malformed json", contentType: "application/json", body: "{not json"},
		{name: "json scalar", contentType: "application/json", body: "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream, _ := newUpstream(t)
			b := service.NewBroadcaster(16, nil)
			sub := b.Subscribe()
			proxySrv := newProxy(t, Config{Target: mustParse(t, upstream.URL)}, b)

			resp, err := http.Post(proxySrv.URL+"/", tt.contentType, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()

			ev := nextEvent(t, sub)
			if ev.Body != nil {
				t.Fatalf("expected no decoded body, got %#v", ev.Body)
			}
		})
	}
}

func TestForwarder_FormBody(t *testing.T) {
	upstream, _ := newUpstream(t)
	b := service.NewBroadcaster(16, nil)
	sub := b.Subscribe()
	proxySrv := newProxy(t, Config{Target: mustParse(t, upstream.URL)}, b)

	resp, err := http.PostForm(proxySrv.URL+"/login", url.Values{"user": {"ada"}, "role": {"a", "b"}})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	ev := nextEvent(t, sub)
	want := map[string]any{"user": "ada", "role": []string{"a", "b"}}
	if !reflect.DeepEqual(ev.Body, want) {
		t.Fatalf("decoded body = %#v; want %#v", ev.Body, want)
	}
}

func TestForwarder_BodyOverCaptureLimitIsForwardedButNotDecoded(t *testing.T) {
	upstream, seen := newUpstream(t)
	b := service.NewBroadcaster(16, nil)
	sub := b.Subscribe()
	proxySrv := newProxy(t, Config{Target: mustParse(t, upstream.URL), MaxBodyCapture: 8}, b)

	payload := `{"long":"` + strings.Repeat("x", 64) + `"}`
	resp, err := http.Post(proxySrv.URL+"/", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if up := <-seen; up.body != payload {
		t.Fatalf("upstream got a truncated body: %q", up.body)
	}
	if ev := nextEvent(t, sub); ev.Body != nil {
		t.Fatalf("expected no decoded body, got %#v", ev.Body)
	}
}

func TestForwarder_TargetDown(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	target := mustParse(t, dead.URL)
	dead.Close()

	b := service.NewBroadcaster(16, nil)
	sub := b.Subscribe()
	proxySrv := newProxy(t, Config{Target: target}, b)

	resp, err := http.Get(proxySrv.URL + "/anything")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d; want 502", resp.StatusCode)
	}
	if !strings.Contains(string(body), http.StatusText(http.StatusBadGateway)) {
		t.Fatalf("unexpected error page %q", body)
	}

	var infos, errs []models.LogEvent
	for i := 0; i < 2; i++ {
		ev := nextEvent(t, sub)
		switch ev.Type {
		case models.EventInfo:
			infos = append(infos, ev)
		case models.EventError:
			errs = append(errs, ev)
		}
	}
	noMoreEvents(t, sub)

	if len(infos) != 1 || len(errs) != 1 {
		t.Fatalf("got %d info and %d error events; want 1 and 1", len(infos), len(errs))
	}
	if !strings.HasPrefix(errs[0].Message, "Error proxying [GET] ") {
		t.Fatalf("unexpected error message %q", errs[0].Message)
	}
	if !models.ShouldDisplay(errs[0]) {
		t.Fatalf("upstream error events should pass the display predicate")
	}
}

func TestForwarder_UpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	b := service.NewBroadcaster(16, nil)
	sub := b.Subscribe()
	proxySrv := newProxy(t, Config{
		Target:                mustParse(t, slow.URL),
		ResponseHeaderTimeout: 50 * time.Millisecond,
	}, b)

	resp, err := http.Get(proxySrv.URL + "/slow")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d; want 504", resp.StatusCode)
	}
	var errorEvents int
	for i := 0; i < 2; i++ {
		if nextEvent(t, sub).Type == models.EventError {
			errorEvents++
		}
	}
	if errorEvents != 1 {
		t.Fatalf("error events = %d; want 1", errorEvents)
	}
}

func TestForwarder_ForwardingHeaders(t *testing.T) {
	tests := []struct {
		name         string
		preserveHost bool
		inboundXFF   string
		wantXFF      string
	}{
		{name: "no prior chain", preserveHost: true, wantXFF: "127.0.0.1"},
		{name: "appends to chain", preserveHost: true, inboundXFF: "10.0.0.1", wantXFF: "10.0.0.1, 127.0.0.1"},
		{name: "target host", preserveHost: false, wantXFF: "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream, seen := newUpstream(t)
			proxySrv := newProxy(t, Config{
				Target:       mustParse(t, upstream.URL),
				PreserveHost: tt.preserveHost,
			}, service.NewBroadcaster(1, nil))

			req, _ := http.NewRequest(http.MethodGet, proxySrv.URL+"/", nil)
			req.Host = "public.example.com"
			if tt.inboundXFF != "" {
				req.Header.Set("X-Forwarded-For", tt.inboundXFF)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()

			up := <-seen
			if up.forwardedFor != tt.wantXFF {
				t.Fatalf("X-Forwarded-For = %q; want %q", up.forwardedFor, tt.wantXFF)
			}
			if up.forwardedHost != "public.example.com" {
				t.Fatalf("X-Forwarded-Host = %q", up.forwardedHost)
			}
			wantHost := mustParse(t, upstream.URL).Host
			if tt.preserveHost {
				wantHost = "public.example.com"
			}
			if up.host != wantHost {
				t.Fatalf("Host = %q; want %q", up.host, wantHost)
			}
		})
	}
}

func TestForwarder_ConcurrentRequestsYieldOneEventEach(t *testing.T) {
	const n = 40
	upstream, _ := newUpstream(t)
	b := service.NewBroadcaster(n*2, nil)
	sub := b.Subscribe()
	proxySrv := newProxy(t, Config{Target: mustParse(t, upstream.URL)}, b)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(
				fmt.Sprintf("%s/item/%d", proxySrv.URL, i),
				"application/json",
				strings.NewReader(fmt.Sprintf(`{"i":%d}`, i)),
			)
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	paths := make(map[string]bool)
	for i := 0; i < n; i++ {
		ev := nextEvent(t, sub)
		if paths[ev.Path] {
			t.Fatalf("duplicate event for %s", ev.Path)
		}
		paths[ev.Path] = true
	}
	noMoreEvents(t, sub)
}

func TestForwarder_SlowSubscriberDoesNotBlockProxy(t *testing.T) {
	upstream, _ := newUpstream(t)
	b := service.NewBroadcaster(1, nil)
	stuck := b.Subscribe()
	proxySrv := newProxy(t, Config{Target: mustParse(t, upstream.URL)}, b)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			resp, err := http.Get(proxySrv.URL + "/")
			if err != nil {
				t.Errorf("request: %v", err)
				return
			}
			resp.Body.Close()
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("proxy blocked behind a lagging subscriber")
	}

	deadline := time.Now().Add(time.Second)
	for stuck.Dropped() < 19 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if stuck.Dropped() != 19 {
		t.Fatalf("dropped = %d; want 19", stuck.Dropped())
	}
}

// blockingPublisher holds every Publish call until released.
type blockingPublisher struct {
	release chan struct{}
	got     chan models.LogEvent
}

func (p *blockingPublisher) Publish(ev models.LogEvent) {
	<-p.release
	p.got <- ev
}

func TestForwarder_ResponseDoesNotWaitForLogging(t *testing.T) {
	upstream, _ := newUpstream(t)
	pub := &blockingPublisher{release: make(chan struct{}), got: make(chan models.LogEvent, 1)}
	proxySrv := newProxy(t, Config{Target: mustParse(t, upstream.URL)}, pub)

	resp, err := http.Post(proxySrv.URL+"/", "application/json", strings.NewReader(`{"a":1}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != `echo:{"a":1}` {
		t.Fatalf("unexpected response %q", body)
	}

	close(pub.release)
	select {
	case ev := <-pub.got:
		if ev.Body == nil {
			t.Fatalf("expected decoded body on the late event")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("log event never published")
	}
}

func TestForwarder_BodyDecodedWhenUpstreamNeverReadsIt(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadTarget := mustParse(t, dead.URL)
	dead.Close()

	ignoring := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ignoring.Close()

	tests := []struct {
		name       string
		target     *url.URL
		wantStatus int
	}{
		{name: "target down", target: deadTarget, wantStatus: http.StatusBadGateway},
		{name: "target ignores body", target: mustParse(t, ignoring.URL), wantStatus: http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := service.NewBroadcaster(16, nil)
			sub := b.Subscribe()
			proxySrv := newProxy(t, Config{Target: tt.target}, b)

			resp, err := http.Post(proxySrv.URL+"/resource", "application/json", strings.NewReader(`{"a":1}`))
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d; want %d", resp.StatusCode, tt.wantStatus)
			}

			var info *models.LogEvent
			for info == nil {
				ev := nextEvent(t, sub)
				if ev.Type == models.EventInfo {
					info = &ev
				}
			}
			want := map[string]any{"a": float64(1)}
			if !reflect.DeepEqual(info.Body, want) {
				t.Fatalf("decoded body = %#v; want %#v", info.Body, want)
			}
		})
	}
}
