package server_test

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gorelay/client"
	"gorelay/config"
	"gorelay/internal/wire"
	"gorelay/server"
	"gorelay/util"
)

// startServer runs a relay on a free port and tears it down with the
// test.  The returned address is ready for peers; dialing retries
// until the listener is up.
func startServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	port, err := util.FindFreePort()
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	cfg.Port = port
	config.ApplyDefaults(cfg)

	srv := server.New(cfg, util.NewLogger(0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("server shutdown: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return util.FormatAddr("127.0.0.1", port)
}

func join(t *testing.T, addr, name string) *client.Client {
	t.Helper()
	b := &client.Backoff{InitialDelay: 20 * time.Millisecond, MaxDelay: 200 * time.Millisecond, MaxAttempts: 50}
	c, err := client.DialRetry(context.Background(), addr, b)
	if err != nil {
		t.Fatalf("dialing relay: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if _, err := c.Login(name); err != nil {
		t.Fatalf("login as %q: %v", name, err)
	}
	return c
}

// nextEvent reads one event with a watchdog so a missing frame fails
// the test instead of hanging it.
func nextEvent(t *testing.T, c *client.Client) client.Event {
	t.Helper()
	watchdog := time.AfterFunc(5*time.Second, func() { c.Close() })
	defer watchdog.Stop()

	ev, err := c.Next()
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}
	return ev
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// waitRoster consumes events until a roster matching want arrives.
func waitRoster(t *testing.T, c *client.Client, want ...string) {
	t.Helper()
	for i := 0; i < 10; i++ {
		ev := nextEvent(t, c)
		if ev.Kind == client.EventRoster && sameSet(ev.Roster, want) {
			return
		}
	}
	t.Fatalf("roster %v never arrived", want)
}

// waitChat consumes events until a chat line equal to want arrives.
func waitChat(t *testing.T, c *client.Client, want string) {
	t.Helper()
	for i := 0; i < 10; i++ {
		ev := nextEvent(t, c)
		if ev.Kind == client.EventChat && ev.Text == want {
			return
		}
	}
	t.Fatalf("chat %q never arrived", want)
}

func TestRelayScenario(t *testing.T) {
	addr := startServer(t, &config.Config{})

	alice := join(t, addr, "alice")
	waitRoster(t, alice, "alice")

	bob := join(t, addr, "bob")
	waitRoster(t, bob, "alice", "bob")
	waitRoster(t, alice, "alice", "bob")

	// Private message, delivered with the sender's name prepended.
	if err := alice.SendMessage("bob", "hello bob"); err != nil {
		t.Fatal(err)
	}
	waitChat(t, bob, "alice: hello bob")

	// Message to an absent peer bounces back as a notice.
	if err := alice.SendMessage("carol", "anyone?"); err != nil {
		t.Fatal(err)
	}
	waitChat(t, alice, "User carol is not online.")

	// File transfer, size chosen to not divide evenly into chunks.
	data := make([]byte, 2*util.ChunkSize+552)
	for i := range data {
		data[i] = byte(i * 17)
	}
	if err := alice.SendFile("bob", "notes.bin", int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}
	var offer client.Event
	for i := 0; ; i++ {
		if i == 10 {
			t.Fatal("file offer never arrived")
		}
		if offer = nextEvent(t, bob); offer.Kind == client.EventFileOffer {
			break
		}
	}
	if offer.Sender != "alice" || offer.Filename != "notes.bin" || offer.Size != uint64(len(data)) {
		t.Fatalf("offer = %+v", offer)
	}
	var received bytes.Buffer
	if _, err := bob.ReadFile(&received); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(received.Bytes(), data) {
		t.Error("file corrupted in transit")
	}

	// File to an absent peer: payload is swallowed, sender gets a
	// notice, and the connection keeps working.
	if err := alice.SendFile("carol", "gone.bin", int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}
	waitChat(t, alice, "User carol is not online.")
	if err := alice.SendMessage("bob", "still here"); err != nil {
		t.Fatal(err)
	}
	waitChat(t, bob, "alice: still here")

	// Departure shrinks the roster for everyone left.
	alice.Close()
	waitRoster(t, bob, "bob")
}

func TestNameEviction(t *testing.T) {
	addr := startServer(t, &config.Config{})

	first := join(t, addr, "alice")
	waitRoster(t, first, "alice")

	second := join(t, addr, "alice")
	waitRoster(t, second, "alice")

	waitChat(t, first, "Another connection claimed your name. Goodbye.")
	for i := 0; ; i++ {
		if i == 5 {
			t.Fatal("evicted connection never closed")
		}
		if _, err := first.Next(); err != nil {
			break
		}
	}

	// The surviving session still routes.
	bob := join(t, addr, "bob")
	waitRoster(t, bob, "alice", "bob")
	if err := bob.SendMessage("alice", "ping"); err != nil {
		t.Fatal(err)
	}
	waitChat(t, second, "bob: ping")
}

func TestInvalidUsernameFallsBack(t *testing.T) {
	addr := startServer(t, &config.Config{})

	c := join(t, addr, "bad,name")

	sawNotice := false
	for i := 0; i < 10; i++ {
		ev := nextEvent(t, c)
		if ev.Kind == client.EventChat && strings.Contains(ev.Text, `Invalid username "bad,name"`) {
			sawNotice = true
			continue
		}
		if ev.Kind == client.EventRoster {
			if len(ev.Roster) != 1 || !strings.HasPrefix(ev.Roster[0], "Anonymous") {
				t.Fatalf("roster = %v, want one Anonymous name", ev.Roster)
			}
			if !sawNotice {
				t.Error("roster arrived without the rejection notice")
			}
			return
		}
	}
	t.Fatal("roster never arrived")
}

func TestEmptyUsernameFallsBack(t *testing.T) {
	addr := startServer(t, &config.Config{})

	c := join(t, addr, "")
	for i := 0; i < 10; i++ {
		ev := nextEvent(t, c)
		if ev.Kind == client.EventRoster {
			if len(ev.Roster) != 1 || !strings.HasPrefix(ev.Roster[0], "Anonymous") {
				t.Fatalf("roster = %v, want one Anonymous name", ev.Roster)
			}
			return
		}
	}
	t.Fatal("roster never arrived")
}

// TestUnknownCommandEchoes speaks the wire format over a raw socket:
// a frame with no recognized prefix comes straight back.
func TestUnknownCommandEchoes(t *testing.T) {
	addr := startServer(t, &config.Config{})

	var conn net.Conn
	var err error
	for i := 0; ; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		if i == 50 {
			t.Fatalf("dialing relay: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck

	if prompt, err := wire.ReadString(conn); err != nil || prompt != "Enter your username:" {
		t.Fatalf("prompt = %q, %v", prompt, err)
	}
	if err := wire.WriteString(conn, "echo"); err != nil {
		t.Fatal(err)
	}
	if roster, err := wire.ReadString(conn); err != nil || roster != "USERS:echo" {
		t.Fatalf("roster = %q, %v", roster, err)
	}

	if err := wire.WriteString(conn, "PING whatever"); err != nil {
		t.Fatal(err)
	}
	if frame, err := wire.ReadString(conn); err != nil || frame != "PING whatever" {
		t.Fatalf("echo = %q, %v", frame, err)
	}
}

// ── WebSocket transport ──────────────────────────────────────────────

func wsReadFrame(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("reading websocket frame: %v", err)
	}
	if len(data) < 2 {
		t.Fatalf("frame too short: %v", data)
	}
	n := int(data[0])<<8 | int(data[1])
	if len(data) != 2+n {
		t.Fatalf("frame length prefix %d does not match %d payload bytes", n, len(data)-2)
	}
	return string(data[2:])
}

func wsWriteFrame(t *testing.T, ws *websocket.Conn, s string) {
	t.Helper()
	buf := make([]byte, 2+len(s))
	buf[0] = byte(len(s) >> 8)
	buf[1] = byte(len(s))
	copy(buf[2:], s)
	if err := ws.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		t.Fatalf("writing websocket frame: %v", err)
	}
}

func TestWebSocketPeer(t *testing.T) {
	wsPort, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{WSPort: wsPort}
	addr := startServer(t, cfg)

	url := fmt.Sprintf("ws://127.0.0.1:%d%s", wsPort, cfg.WSPath)
	var ws *websocket.Conn
	for i := 0; ; i++ {
		ws, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			break
		}
		if i == 50 {
			t.Fatalf("dialing %s: %v", url, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Cleanup(func() { ws.Close() })

	if prompt := wsReadFrame(t, ws); prompt != "Enter your username:" {
		t.Fatalf("prompt = %q", prompt)
	}
	wsWriteFrame(t, ws, "wanda")
	if roster := wsReadFrame(t, ws); roster != "USERS:wanda" {
		t.Fatalf("roster = %q", roster)
	}

	// A TCP peer and the WebSocket peer share one namespace.
	tom := join(t, addr, "tom")
	waitRoster(t, tom, "tom", "wanda")
	if roster := wsReadFrame(t, ws); roster != "USERS:tom,wanda" {
		t.Fatalf("roster = %q", roster)
	}

	if err := tom.SendMessage("wanda", "hi across transports"); err != nil {
		t.Fatal(err)
	}
	if msg := wsReadFrame(t, ws); msg != "tom: hi across transports" {
		t.Fatalf("delivered = %q", msg)
	}

	wsWriteFrame(t, ws, "MSG:tom:hi back")
	waitChat(t, tom, "wanda: hi back")
}
