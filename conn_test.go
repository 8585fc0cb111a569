package dbus

import (
	"bufio"
	"net"
	"testing"

	"github.com/creachadair/mds/queue"
)

// newTestConnection wraps one end of a net.Pipe as a Connection, bypassing
// Dial's address resolution and SASL handshake so methodCall/waitMessage can
// be exercised against a synthetic peer driven from the test goroutine.
func newTestConnection(conn net.Conn) *Connection {
	return &Connection{
		conn:       conn,
		br:         bufio.NewReader(conn),
		order:      hostOrder,
		pending:    queue.New[*Message](),
		UniqueName: ":1.1",
	}
}

func TestConnectionMethodCallRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)

	done := make(chan error, 1)
	go func() {
		req, err := readMessage(server)
		if err != nil {
			done <- err
			return
		}
		if req.Member != "Ping" {
			done <- errUnsupportedType
			return
		}
		sig, body, err := encodeBody(hostOrder, "pong")
		if err != nil {
			done <- err
			return
		}
		reply := &Message{
			Type:        TypeMethodReturn,
			Serial:      99,
			ReplySerial: req.Serial,
			Destination: req.Sender,
			Signature:   sig,
			Body:        body,
			order:       hostOrder,
		}
		buf, err := reply.pack()
		if err != nil {
			done <- err
			return
		}
		_, err = server.Write(buf)
		done <- err
	}()

	reply, err := c.methodCall("org.example.Dest", "/org/example/Obj", "org.example.Iface", "Ping", "", nil)
	if err != nil {
		t.Fatalf("methodCall: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server goroutine: %v", err)
	}
	var s string
	if err := decodeBody(reply.Signature, reply.Body, reply.byteOrder(), &s); err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if s != "pong" {
		t.Errorf("reply body = %q, want \"pong\"", s)
	}
}

func TestConnectionMethodCallBuffersInterleavedSignal(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)

	done := make(chan error, 1)
	go func() {
		req, err := readMessage(server)
		if err != nil {
			done <- err
			return
		}

		// Send an unrelated signal before the actual reply; the client's
		// correlation loop must buffer it (no handler registered) and keep
		// waiting for the matching MethodReturn.
		sigMsg := &Message{
			Type:      TypeSignal,
			Serial:    50,
			Path:      "/org/example/Obj",
			Interface: "org.example.Iface",
			Member:    "SomethingHappened",
			order:     hostOrder,
		}
		buf, err := sigMsg.pack()
		if err != nil {
			done <- err
			return
		}
		if _, err := server.Write(buf); err != nil {
			done <- err
			return
		}

		reply := &Message{
			Type:        TypeMethodReturn,
			Serial:      51,
			ReplySerial: req.Serial,
			order:       hostOrder,
		}
		buf, err = reply.pack()
		if err != nil {
			done <- err
			return
		}
		_, err = server.Write(buf)
		done <- err
	}()

	_, err := c.methodCall("", "/org/example/Obj", "org.example.Iface", "DoIt", "", nil)
	if err != nil {
		t.Fatalf("methodCall: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server goroutine: %v", err)
	}
	if c.pendingLen != 1 {
		t.Fatalf("pendingLen = %d, want 1 (the buffered signal)", c.pendingLen)
	}
	buffered, err := c.waitMessage()
	if err != nil {
		t.Fatalf("waitMessage: %v", err)
	}
	if buffered.Type != TypeSignal || buffered.Member != "SomethingHappened" {
		t.Errorf("waitMessage returned %+v, want the buffered signal", buffered)
	}
}

func TestConnectionDispatchSignalInline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)

	var got *Message
	c.registerSignalHandler("org.example.Iface", "Changed", func(msg *Message, _ interface{}) {
		got = msg
	}, nil)

	done := make(chan error, 1)
	go func() {
		req, err := readMessage(server)
		if err != nil {
			done <- err
			return
		}
		sigMsg := &Message{
			Type:      TypeSignal,
			Serial:    10,
			Path:      "/org/example/Obj",
			Interface: "org.example.Iface",
			Member:    "Changed",
			order:     hostOrder,
		}
		buf, err := sigMsg.pack()
		if err != nil {
			done <- err
			return
		}
		if _, err := server.Write(buf); err != nil {
			done <- err
			return
		}
		reply := &Message{Type: TypeMethodReturn, Serial: 11, ReplySerial: req.Serial, order: hostOrder}
		buf, err = reply.pack()
		if err != nil {
			done <- err
			return
		}
		_, err = server.Write(buf)
		done <- err
	}()

	if _, err := c.methodCall("", "/org/example/Obj", "org.example.Iface", "DoIt", "", nil); err != nil {
		t.Fatalf("methodCall: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server goroutine: %v", err)
	}
	if got == nil || got.Member != "Changed" {
		t.Errorf("signal handler was not invoked with the Changed signal, got %+v", got)
	}
	if c.pendingLen != 0 {
		t.Errorf("pendingLen = %d, want 0 (signal consumed by handler, not buffered)", c.pendingLen)
	}
}

func TestConnectionNextSerialWrapsAndSkipsZero(t *testing.T) {
	c := &Connection{serialCounter: ^uint32(0)}
	if s := c.nextSerial(); s != 1 {
		t.Errorf("nextSerial() after wraparound = %d, want 1", s)
	}
}
