package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDoSendsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/runs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing content type")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	client := New(srv.URL+"/", time.Second)
	resp, err := client.Do(context.Background(), http.MethodPost, "/api/v1/runs", nil, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != http.StatusCreated || string(resp.Body) != `{"a":1}` {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, resp.Body)
	}
}

func TestWatchReadsUntilNormalClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"state":"executing"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"state":"completed"}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	var frames []string
	err := New(srv.URL, time.Second).Watch(context.Background(), "/watch", func(b []byte) {
		frames = append(frames, string(b))
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(frames) != 2 || frames[1] != `{"state":"completed"}` {
		t.Fatalf("unexpected frames %v", frames)
	}
}

func TestWatchReportsRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":13000}`, http.StatusNotFound)
	}))
	defer srv.Close()

	err := New(srv.URL, time.Second).Watch(context.Background(), "/watch", func([]byte) {})
	if err == nil {
		t.Fatalf("expected handshake error")
	}
}

func TestWebsocketURL(t *testing.T) {
	if got, _ := websocketURL("https://judge", "/w"); got != "wss://judge/w" {
		t.Fatalf("unexpected url %s", got)
	}
	if got, _ := websocketURL("http://judge:8085", "/w"); got != "ws://judge:8085/w" {
		t.Fatalf("unexpected url %s", got)
	}
	if _, err := websocketURL("judge", "/w"); err == nil {
		t.Fatalf("expected error for schemeless base")
	}
}
