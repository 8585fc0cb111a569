package dbus

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/creachadair/mds/queue"
)

const (
	busDaemonName = "org.freedesktop.DBus"
	busDaemonPath = ObjectPath("/org/freedesktop/DBus")
)

// signalHandler is one entry of the per-connection signal_handlers list
// (spec §3, §4.7).
type signalHandler struct {
	iface  string
	member string
	cb     func(msg *Message, ctx interface{})
	ctx    interface{}
}

func (h *signalHandler) matches(msg *Message) bool {
	if msg.Type != TypeSignal {
		return false
	}
	if h.iface != "" && h.iface != msg.Interface {
		return false
	}
	if h.member != "" && h.member != msg.Member {
		return false
	}
	return true
}

type registeredObject struct {
	handle     int
	path       ObjectPath
	dispatcher *objectDispatcher
}

// Connection owns the socket, the serial counter, the pending-message
// queue, the signal-handler registry and the registered-object registry
// for a single bus connection (spec §2, §4.7). It is single-threaded and
// cooperative (spec §5): nothing here is internally synchronised, and
// concurrent use from multiple goroutines is undefined — wrap a Connection
// with external synchronisation if that's required.
//
// Grounded on z3ntu-go-dbus's dbus.go Connection, rearchitected from its
// goroutine/channel receiveLoop into the blocking correlation loop spec
// §4.7 specifies, and its pending-message FIFO implemented with
// github.com/creachadair/mds/queue (grounded on danderson-dbus's
// transport-unix.go fd queue usage) in place of an unbounded channel.
type Connection struct {
	conn net.Conn
	br   *bufio.Reader
	order binary.ByteOrder

	serialCounter uint32

	pending     *queue.Queue[*Message]
	pendingLen  int

	signalHandlers []*signalHandler
	objects        []*registeredObject
	nextHandle     int

	UniqueName string
	busType    BusType
}

// Dial implements Connection's init operation (spec §4.7): resolve the
// socket address for bus, connect, authenticate, and send Hello.
func Dial(bus BusType) (*Connection, error) {
	addr, err := resolveBusAddress(bus)
	if err != nil {
		return nil, err
	}
	conn, err := dialUnix(addr)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		conn:    conn,
		br:      bufio.NewReader(conn),
		order:   hostOrder,
		pending: queue.New[*Message](),
		busType: bus,
	}

	if err := authenticateExternal(c.conn, c.br); err != nil {
		conn.Close()
		return nil, err
	}

	reply, err := c.methodCall("", busDaemonPath, busDaemonName, "Hello", "", nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if reply.Type == TypeError {
		conn.Close()
		return nil, remoteErrorFromMessage(reply)
	}
	if err := decodeBody(reply.Signature, reply.Body, reply.byteOrder(), &c.UniqueName); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close implements Connection's close operation: drain pending messages,
// destroy registered objects, close the socket.
func (c *Connection) Close() error {
	c.pending = queue.New[*Message]()
	c.pendingLen = 0
	c.objects = nil
	return c.conn.Close()
}

func (c *Connection) nextSerial() uint32 {
	c.serialCounter++
	if c.serialCounter == 0 {
		c.serialCounter = 1
	}
	return c.serialCounter
}

// sendMessage implements Connection's sendMessage operation: assign a
// serial if unset and write the packed bytes.
func (c *Connection) sendMessage(msg *Message) error {
	if msg.Serial == 0 {
		msg.Serial = c.nextSerial()
	}
	if msg.order == nil {
		msg.order = c.order
	}
	buf, err := msg.pack()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(buf)
	return err
}

// methodCall implements the synchronous call + correlation algorithm from
// spec §4.7.
func (c *Connection) methodCall(dest string, path ObjectPath, iface, member string, sig Signature, body []byte) (*Message, error) {
	serial := c.nextSerial()
	req := &Message{
		Type:        TypeMethodCall,
		Serial:      serial,
		Path:        path,
		Interface:   iface,
		Member:      member,
		Destination: dest,
		Signature:   sig,
		Body:        body,
		order:       c.order,
	}
	if err := c.sendMessage(req); err != nil {
		return nil, err
	}
	return c.awaitReply(serial)
}

// awaitReply implements the tail of spec §4.7's correlation algorithm:
// once a request carrying serial has been written, block until its
// MethodReturn or Error counterpart is seen, dispatching Signals inline
// and buffering everything else in pending_messages.
func (c *Connection) awaitReply(serial uint32) (*Message, error) {
	if reply := c.takeMatchingReply(serial); reply != nil {
		return reply, nil
	}

	for {
		msg, err := c.readNextMessage()
		if err != nil {
			return nil, err
		}
		if (msg.Type == TypeMethodReturn || msg.Type == TypeError) && msg.ReplySerial == serial {
			return msg, nil
		}
		if msg.Type == TypeSignal {
			if c.dispatchSignal(msg) {
				continue
			}
			c.appendPending(msg)
			continue
		}
		c.appendPending(msg)
	}
}

func (c *Connection) appendPending(msg *Message) {
	c.pending.Add(msg)
	c.pendingLen++
}

// takeMatchingReply scans pending_messages for a MethodReturn/Error
// carrying ReplySerial=serial, removing and returning it if present.
func (c *Connection) takeMatchingReply(serial uint32) *Message {
	n := c.pendingLen
	var found *Message
	for i := 0; i < n; i++ {
		msg, ok := c.pending.Pop()
		if !ok {
			break
		}
		c.pendingLen--
		if found == nil && (msg.Type == TypeMethodReturn || msg.Type == TypeError) && msg.ReplySerial == serial {
			found = msg
			continue
		}
		c.appendPending(msg)
	}
	return found
}

// dispatchSignal invokes every registered handler matching msg, returning
// true if at least one matched (spec §4.7 step 5).
func (c *Connection) dispatchSignal(msg *Message) bool {
	matched := false
	for _, h := range c.signalHandlers {
		if h.matches(msg) {
			h.cb(msg, h.ctx)
			matched = true
		}
	}
	return matched
}

// readNextMessage reads one complete message off the socket, never
// leaving a partial message unconsumed (spec §4.7's frame-level
// invariant).
func (c *Connection) readNextMessage() (*Message, error) {
	return readMessage(c.br)
}

// waitMessage implements Connection's waitMessage operation: return the
// next message not consumed as a registered signal.
func (c *Connection) waitMessage() (*Message, error) {
	if n := c.pendingLen; n > 0 {
		msg, ok := c.pending.Pop()
		if ok {
			c.pendingLen--
			return msg, nil
		}
	}
	for {
		msg, err := c.readNextMessage()
		if err != nil {
			return nil, err
		}
		if msg.Type == TypeSignal && c.dispatchSignal(msg) {
			continue
		}
		return msg, nil
	}
}

// addMatch implements Connection's addMatch operation.
func (c *Connection) addMatch(rule *MatchRule) error {
	return c.busCallNoReply("AddMatch", rule.String())
}

// removeMatch is the inverse of addMatch, used by SignalWatch.Cancel.
func (c *Connection) removeMatch(rule *MatchRule) error {
	return c.busCallNoReply("RemoveMatch", rule.String())
}

// busCallNoReply calls member on org.freedesktop.DBus and discards the
// reply body, surfacing only a RemoteError or transport error.
func (c *Connection) busCallNoReply(member string, args ...interface{}) error {
	sig, body, err := encodeBody(c.order, args...)
	if err != nil {
		return err
	}
	reply, err := c.methodCall(busDaemonName, busDaemonPath, busDaemonName, member, sig, body)
	if err != nil {
		return err
	}
	if reply.Type == TypeError {
		return remoteErrorFromMessage(reply)
	}
	return nil
}

const (
	nameFlagAllowReplacement = 0x1
	nameFlagReplaceExisting  = 0x2
	nameFlagDoNotQueue       = 0x4
)

// requestName implements Connection's requestName operation: RequestName
// with flags DoNotQueue | ReplaceExisting (spec §4.7).
func (c *Connection) requestName(name string) (uint32, error) {
	return c.busCallUint32("RequestName", name, uint32(nameFlagDoNotQueue|nameFlagReplaceExisting))
}

// registerSignalHandler implements Connection's registerSignalHandler
// operation.
func (c *Connection) registerSignalHandler(iface, member string, cb func(msg *Message, ctx interface{}), ctx interface{}) {
	c.signalHandlers = append(c.signalHandlers, &signalHandler{iface: iface, member: member, cb: cb, ctx: ctx})
}

// registerObject implements Connection's registerObject operation: request
// busName, instantiate the dispatch table, and bind the object to path.
// Returns a handle usable with waitOnHandle.
func (c *Connection) registerObject(v interface{}, ifaceName, busName string, path ObjectPath) (int, error) {
	if _, err := c.requestName(busName); err != nil {
		return 0, err
	}
	dispatcher, err := newObjectDispatcher(c, v, ifaceName, busName, path)
	if err != nil {
		return 0, err
	}
	c.nextHandle++
	obj := &registeredObject{handle: c.nextHandle, path: path, dispatcher: dispatcher}
	c.objects = append(c.objects, obj)
	return obj.handle, nil
}

func (c *Connection) objectByHandle(handle int) *registeredObject {
	for _, o := range c.objects {
		if o.handle == handle {
			return o
		}
	}
	return nil
}

func (c *Connection) objectByPath(path ObjectPath) *registeredObject {
	for _, o := range c.objects {
		if o.path == path {
			return o
		}
	}
	return nil
}

// sendReply implements Connection's sendReply operation.
func (c *Connection) sendReply(request *Message, sig Signature, body []byte) error {
	return c.sendMessage(c.newMethodReturnRaw(request, sig, body))
}

// sendError implements Connection's sendError operation.
func (c *Connection) sendError(request *Message, errName, errMsg string) error {
	return c.sendMessage(c.newErrorReply(request, errName, errMsg))
}

func (c *Connection) newMethodReturn(request *Message, sig Signature, body []byte) *Message {
	return c.newMethodReturnRaw(request, sig, body)
}

func (c *Connection) newMethodReturnRaw(request *Message, sig Signature, body []byte) *Message {
	return &Message{
		Type:        TypeMethodReturn,
		ReplySerial: request.Serial,
		Destination: request.Sender,
		Signature:   sig,
		Body:        body,
		order:       request.byteOrder(),
	}
}

func (c *Connection) newErrorReply(request *Message, errName, errMsg string) *Message {
	sig, body, _ := encodeBody(request.byteOrder(), errMsg)
	return &Message{
		Type:        TypeError,
		ReplySerial: request.Serial,
		Destination: request.Sender,
		ErrorName:   errName,
		Signature:   sig,
		Body:        body,
		order:       request.byteOrder(),
	}
}

// emitPropertiesChanged sends the PropertiesChanged signal on
// org.freedesktop.DBus.Properties with body (iface, changed, []) per spec
// §4.8's Set behaviour.
func (c *Connection) emitPropertiesChanged(iface string, path ObjectPath, changed map[string]Variant) error {
	sig, body, err := encodeBody(c.order, iface, changed, []string{})
	if err != nil {
		return err
	}
	return c.sendMessage(&Message{
		Type:      TypeSignal,
		Path:      path,
		Interface: ifaceProperties,
		Member:    "PropertiesChanged",
		Signature: sig,
		Body:      body,
		order:     c.order,
	})
}

// waitOnHandle implements Connection's waitOnHandle operation: loop
// reading messages, routing MethodCalls to the registered object at
// handle's path (or answering a dynamic Introspect on a descendant path),
// dispatching Signals, until the socket closes.
func (c *Connection) waitOnHandle(handle int) error {
	obj := c.objectByHandle(handle)
	if obj == nil {
		return errInvalidHandle
	}
	for {
		msg, err := c.waitMessage()
		if err != nil {
			return err
		}
		if msg.Type != TypeMethodCall {
			continue
		}
		target := c.objectByPath(msg.Path)
		if target == nil {
			if xml, ok := c.dynamicIntrospect(msg.Path); ok {
				sig, body, _ := encodeBody(msg.byteOrder(), xml)
				if err := c.sendMessage(c.newMethodReturnRaw(msg, sig, body)); err != nil {
					return err
				}
				continue
			}
			if err := c.sendError(msg, "org.freedesktop.DBus.Error.UnknownObject",
				fmt.Sprintf("unknown object path %q", msg.Path)); err != nil {
				return err
			}
			continue
		}
		reply := target.dispatcher.handleCall(c, msg)
		if reply != nil {
			if err := c.sendMessage(reply); err != nil {
				return err
			}
		}
	}
}

func remoteErrorFromMessage(msg *Message) error {
	values, _ := decodeBodyDynamic(msg.Signature, msg.Body, msg.byteOrder())
	message := ""
	if len(values) > 0 {
		if s, ok := values[0].(string); ok {
			message = s
		}
	}
	return &RemoteError{Name: msg.ErrorName, Message: message}
}
