package dbus

import (
	"net"
	"testing"
)

// serveBusCalls runs a goroutine answering n method calls on the client
// connection's peer with empty MethodReturns, used to satisfy addMatch's/
// removeMatch's synchronous round trip to org.freedesktop.DBus.
func serveBusCalls(t *testing.T, server net.Conn, n int) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			req, err := readMessage(server)
			if err != nil {
				done <- err
				return
			}
			reply := &Message{
				Type:        TypeMethodReturn,
				Serial:      uint32(100 + i),
				ReplySerial: req.Serial,
				order:       hostOrder,
			}
			buf, err := reply.pack()
			if err != nil {
				done <- err
				return
			}
			if _, err := server.Write(buf); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	return done
}

func TestWatchSignalAddsMatchAndInvokesCallback(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)

	serverDone := serveBusCalls(t, server, 1)

	rule := &MatchRule{Interface: "org.example.Iface", Member: "Changed"}
	var invoked *Message
	watch, err := c.WatchSignal(rule, func(msg *Message) { invoked = msg })
	if err != nil {
		t.Fatalf("WatchSignal: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("serveBusCalls: %v", err)
	}
	if rule.Type != TypeSignal {
		t.Errorf("WatchSignal did not normalize rule.Type to TypeSignal, got %v", rule.Type)
	}
	if watch.rule != rule {
		t.Error("SignalWatch does not carry the rule passed to WatchSignal")
	}

	if !c.dispatchSignal(&Message{Type: TypeSignal, Interface: "org.example.Iface", Member: "Changed"}) {
		t.Fatal("dispatchSignal returned false for a matching signal")
	}
	if invoked == nil {
		t.Error("callback was not invoked for a matching signal")
	}
}

func TestWatchSignalRejectsNonSignalRule(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()
	c := newTestConnection(client)

	_, err := c.WatchSignal(&MatchRule{Type: TypeMethodCall}, func(*Message) {})
	if err == nil {
		t.Error("WatchSignal with Type=MethodCall expected error, got nil")
	}
}

func TestWatchSignalCallbackFiltersByPathAndSender(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)

	serverDone := serveBusCalls(t, server, 1)
	rule := &MatchRule{Path: "/org/example/Obj", Sender: "org.example.Sender", Member: "Changed"}
	var calls int
	if _, err := c.WatchSignal(rule, func(msg *Message) { calls++ }); err != nil {
		t.Fatalf("WatchSignal: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("serveBusCalls: %v", err)
	}

	c.dispatchSignal(&Message{Type: TypeSignal, Path: "/org/example/Obj", Sender: "org.example.Sender", Member: "Changed"})
	c.dispatchSignal(&Message{Type: TypeSignal, Path: "/other/path", Sender: "org.example.Sender", Member: "Changed"})
	c.dispatchSignal(&Message{Type: TypeSignal, Path: "/org/example/Obj", Sender: "org.example.OtherSender", Member: "Changed"})
	if calls != 1 {
		t.Errorf("callback invoked %d times, want 1 (only the matching Path and Sender)", calls)
	}
}

func TestSignalWatchCancelRemovesMatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)

	serverDone := serveBusCalls(t, server, 2) // AddMatch, then RemoveMatch
	rule := &MatchRule{Member: "Changed"}
	watch, err := c.WatchSignal(rule, func(*Message) {})
	if err != nil {
		t.Fatalf("WatchSignal: %v", err)
	}
	if err := watch.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("serveBusCalls: %v", err)
	}
	if err := watch.Cancel(); err != nil {
		t.Errorf("second Cancel() = %v, want nil (idempotent)", err)
	}
}
