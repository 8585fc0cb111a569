package dbus

import (
	"errors"
	"net"
	"testing"
)

// serveProxyCall reads one request from server and replies according to
// reply, returning the decoded request for assertions.
func serveProxyCall(t *testing.T, server net.Conn, reply *Message) <-chan *Message {
	t.Helper()
	got := make(chan *Message, 1)
	go func() {
		req, err := readMessage(server)
		if err != nil {
			t.Errorf("readMessage: %v", err)
			got <- nil
			return
		}
		reply.ReplySerial = req.Serial
		reply.order = hostOrder
		buf, err := reply.pack()
		if err != nil {
			t.Errorf("pack: %v", err)
			got <- nil
			return
		}
		if _, err := server.Write(buf); err != nil {
			t.Errorf("Write: %v", err)
		}
		got <- req
	}()
	return got
}

func TestProxyCallDecodesResult(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)
	p := NewProxy(c, "org.example.Service", "/org/example/Obj", "org.example.Iface")

	sig, body, err := encodeBody(hostOrder, int32(42))
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	reqDone := serveProxyCall(t, server, &Message{Type: TypeMethodReturn, Serial: 1, Signature: sig, Body: body})

	res, err := p.Call("DoThing", "arg")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	req := <-reqDone
	if req.Interface != "org.example.Iface" || req.Member != "DoThing" || req.Destination != "org.example.Service" {
		t.Errorf("request = %+v, want Iface/DoThing to org.example.Service", req)
	}

	got, err := Expect[int32](res)
	if err != nil {
		t.Fatalf("Expect[int32]: %v", err)
	}
	if got != 42 {
		t.Errorf("Expect[int32]() = %d, want 42", got)
	}
}

func TestProxyCallSurfacesRemoteError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)
	p := NewProxy(c, "org.example.Service", "/org/example/Obj", "org.example.Iface")

	serveProxyCall(t, server, &Message{Type: TypeError, Serial: 1, ErrorName: "org.example.Error.Failed"})

	_, err := p.Call("DoThing")
	if err == nil {
		t.Fatal("call with Error reply: got nil error")
	}
	remoteErr, ok := err.(*RemoteError)
	if !ok {
		t.Fatalf("error type = %T, want *RemoteError", err)
	}
	if remoteErr.Name != "org.example.Error.Failed" {
		t.Errorf("RemoteError.Name = %q, want org.example.Error.Failed", remoteErr.Name)
	}
}

func TestProxyCallWithFlagsNoReplyExpectedSkipsWait(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)
	p := NewProxy(c, "org.example.Service", "/org/example/Obj", "org.example.Iface")

	reqDone := make(chan *Message, 1)
	go func() {
		req, err := readMessage(server)
		if err != nil {
			reqDone <- nil
			return
		}
		reqDone <- req
	}()

	res, err := p.CallWithFlags("FireAndForget", FlagNoReplyExpected)
	if err != nil {
		t.Fatalf("callWithFlags: %v", err)
	}
	if res == nil {
		t.Fatal("callWithFlags with NoReplyExpected returned a nil result")
	}
	req := <-reqDone
	if req == nil {
		t.Fatal("request was never sent")
	}
	if req.Flags&FlagNoReplyExpected == 0 {
		t.Error("request does not carry FlagNoReplyExpected")
	}
}

func TestGetAndSetProperty(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)
	p := NewProxy(c, "org.example.Service", "/org/example/Obj", "org.example.Iface")

	sig, body, err := encodeBody(hostOrder, Variant{Value: "hello"})
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	reqDone := serveProxyCall(t, server, &Message{Type: TypeMethodReturn, Serial: 1, Signature: sig, Body: body})

	got, err := GetProperty[string](p, "Label")
	if err != nil {
		t.Fatalf("GetProperty[string]: %v", err)
	}
	req := <-reqDone
	if req.Interface != ifaceProperties || req.Member != "Get" {
		t.Errorf("request = %+v, want Properties.Get", req)
	}
	if got != "hello" {
		t.Errorf("GetProperty() = %q, want \"hello\"", got)
	}

	reqDone = serveProxyCall(t, server, &Message{Type: TypeMethodReturn, Serial: 2})
	if err := p.SetProperty("Label", "world"); err != nil {
		t.Fatalf("setProperty: %v", err)
	}
	req = <-reqDone
	if req.Interface != ifaceProperties || req.Member != "Set" {
		t.Errorf("request = %+v, want Properties.Set", req)
	}
}

func TestGetPropertyTypeMismatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)
	p := NewProxy(c, "org.example.Service", "/org/example/Obj", "org.example.Iface")

	sig, body, err := encodeBody(hostOrder, Variant{Value: int32(7)})
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	serveProxyCall(t, server, &Message{Type: TypeMethodReturn, Serial: 1, Signature: sig, Body: body})

	_, err = GetProperty[string](p, "Label")
	if !errors.Is(err, errNoMatchingUnionField) {
		t.Errorf("GetProperty[string] against an int32 property = %v, want errNoMatchingUnionField", err)
	}
}

func TestProxyIntrospect(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	c := newTestConnection(client)
	p := NewProxy(c, "org.example.Service", "/org/example/Obj", "org.example.Iface")

	sig, body, err := encodeBody(hostOrder, sampleIntrospectionXML)
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	reqDone := serveProxyCall(t, server, &Message{Type: TypeMethodReturn, Serial: 1, Signature: sig, Body: body})

	node, err := p.Introspect()
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	req := <-reqDone
	if req.Interface != ifaceIntrospectable || req.Member != "Introspect" {
		t.Errorf("request = %+v, want Introspectable.Introspect", req)
	}
	if node.Interface("org.example.Counter") == nil {
		t.Error("Introspect() did not parse the org.example.Counter interface")
	}
}
