package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/troika-tech/creditsync/internal/backoff"
	"github.com/troika-tech/creditsync/internal/router"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*http.Request, *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testDialer() Dialer {
	return NewDialer(DefaultClientConfig(), nil)
}

func TestDialer_ReadWrite(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})
	defer server.Close()

	conn, err := testDialer().Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(CloseNormal, "")

	if err := conn.WriteMessage([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if string(got) != `{"type":"ping"}` {
		t.Errorf("echo = %q", got)
	}
}

func TestDialer_CloseSendsCode(t *testing.T) {
	codes := make(chan int, 1)
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			codes <- ce.Code
			return
		}
		codes <- -1
	})
	defer server.Close()

	conn, err := testDialer().Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := conn.Close(CloseNormal, "client disconnect"); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	// Second close is a no-op.
	conn.Close(CloseNormal, "client disconnect")

	select {
	case code := <-codes:
		if code != CloseNormal {
			t.Errorf("server saw close code %d, want %d", code, CloseNormal)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close frame")
	}
}

func TestDialer_ServerClose(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	conn, err := testDialer().Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(CloseNormal, "")

	_, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected read error after server close")
	}
	if code := closeCode(err); code != CloseNormal {
		t.Errorf("closeCode = %d, want %d", code, CloseNormal)
	}
}

func TestDialer_AbruptDropIsAbnormal(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})
	defer server.Close()

	conn, err := testDialer().Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(CloseNormal, "")

	_, err = conn.ReadMessage()
	if code := closeCode(err); code != CloseAbnormal {
		t.Errorf("closeCode = %d, want %d (err %v)", code, CloseAbnormal, err)
	}
}

func TestDialer_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := testDialer().Dial(context.Background(), wsURL(server), nil)
	if err == nil {
		t.Fatal("expected handshake error")
	}
}

func TestDialer_ReadLimit(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64)))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.ReadLimit = 16
	conn, err := NewDialer(cfg, nil).Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(CloseNormal, "")

	if _, err := conn.ReadMessage(); err == nil {
		t.Error("expected read limit error")
	}
}

func TestDialer_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testDialer().Dial(ctx, "ws://127.0.0.1:1/ws/dashboard", nil)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSubscribe_EndToEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		query    string
		auth     string
		received []string
	)
	closed := make(chan int, 1)

	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		mu.Lock()
		query = r.URL.RawQuery
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected","data":{"subscriberId":"u1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"credit:deducted","data":{"amount":-50,"newBalance":450}}`))

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					closed <- ce.Code
				}
				return
			}
			mu.Lock()
			received = append(received, string(msg))
			mu.Unlock()
		}
	})
	defer server.Close()

	events := make(chan router.CreditUpdateEvent, 4)
	cfg := DefaultManagerConfig()
	cfg.WSBase = server.URL
	cfg.Token = "secret"
	cfg.HeartbeatInterval = 20 * time.Millisecond

	sub := Subscribe(cfg, "u1", func(e router.CreditUpdateEvent) { events <- e })
	defer sub.Disconnect()

	select {
	case e := <-events:
		if e.Type != router.TypeCreditDeducted || e.Amount != -50 || e.NewBalance != 450 {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no credit event received")
	}

	if !sub.Connected() || sub.Reconnecting() || sub.Err() != "" {
		t.Errorf("unexpected status %+v", sub.Status())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	if len(received) == 0 || received[0] != `{"type":"ping"}` {
		t.Errorf("heartbeat frames = %v", received)
	}
	if query != "subscriberId=u1&token=secret" {
		t.Errorf("query = %q", query)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	mu.Unlock()

	sub.Disconnect()

	select {
	case code := <-closed:
		if code != CloseNormal {
			t.Errorf("close code = %d, want %d", code, CloseNormal)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close frame")
	}
	if sub.Connected() {
		t.Error("expected Connected false after Disconnect")
	}
}

func TestSubscribe_RecoversFromDrop(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			conn.UnderlyingConn().Close()
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"credit:added","data":{"amount":25,"newBalance":475}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	events := make(chan router.CreditUpdateEvent, 4)
	cfg := DefaultManagerConfig()
	cfg.WSBase = server.URL
	cfg.Backoff = backoff.Scheduler{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond, MaxAttempts: 3}

	sub := Subscribe(cfg, "u1", func(e router.CreditUpdateEvent) { events <- e })
	defer sub.Disconnect()

	select {
	case e := <-events:
		if e.NewBalance != 475 {
			t.Errorf("NewBalance = %v, want 475", e.NewBalance)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no event after reconnect, status %+v", sub.Status())
	}

	if got := conns.Load(); got != 2 {
		t.Errorf("server saw %d connections, want 2", got)
	}
	if !sub.Connected() {
		t.Errorf("expected connected, status %+v", sub.Status())
	}
}
