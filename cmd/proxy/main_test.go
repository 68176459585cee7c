package main

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"logging_proxy/internal/config"
	"logging_proxy/internal/logger"
	"logging_proxy/internal/models"

	"github.com/gorilla/websocket"
)

func TestBuild_EndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Proxy: config.ProxyConfig{
			Port:              "127.0.0.1:0",
			Target:            upstream.URL,
			TargetDescription: "upstream under test",
			PreserveHost:      true,
		},
		Dashboard: config.DashboardConfig{Port: "127.0.0.1:0"},
		Events:    config.EventsConfig{QueueSize: 8},
	}
	target, err := config.ParseTarget(cfg.Proxy.Target)
	if err != nil {
		t.Fatalf("parse target: %v", err)
	}
	cfg.Proxy.TargetURL = target

	a, err := build(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	go func() { _ = a.proxySrv.Serve() }()
	go func() { _ = a.dashSrv.Serve() }()
	defer func() {
		if err := a.shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	wsURL := fmt.Sprintf("ws://%s/ws", a.dashSrv.Addr())
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial dashboard: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for a.events.Stats().Subscribers != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("observer never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	proxyURL := fmt.Sprintf("http://%s/orders?id=7", a.proxySrv.Addr())
	resp, err := http.Post(proxyURL, "application/json", strings.NewReader(`{"qty":2}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != `{"qty":2}` {
		t.Fatalf("proxied response = %q", body)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.LogEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	want := fmt.Sprintf("[POST] %s/orders?id=7 -> upstream under test", a.proxySrv.Addr())
	if ev.Message != want {
		t.Fatalf("message = %q; want %q", ev.Message, want)
	}
	if m, ok := ev.Body.(map[string]any); !ok || m["qty"] != float64(2) {
		t.Fatalf("body = %#v", ev.Body)
	}
}
