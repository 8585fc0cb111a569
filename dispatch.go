package dbus

import (
	"fmt"
	"reflect"
	"strings"
)

const (
	ifaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
	ifacePeer           = "org.freedesktop.DBus.Peer"
)

// propertyAccess is the Read/Write/ReadWrite access mode of an exported
// property field (spec §4.8).
type propertyAccess int

const (
	accessRead propertyAccess = iota
	accessWrite
	accessReadWrite
)

func (a propertyAccess) readable() bool { return a == accessRead || a == accessReadWrite }
func (a propertyAccess) writable() bool { return a == accessWrite || a == accessReadWrite }

type propertyField struct {
	name       string
	fieldIndex int
	access     propertyAccess
}

// SignalEmitter is the type a registered object embeds a field of (tagged
// `dbus:"signal"`) to emit a signal under the interface and path it was
// bound to at registration time. Its zero value is safe: Emit called on a
// SignalEmitter that registerObject has not yet bound returns
// errSignalNotBound rather than panicking on a nil function call.
type SignalEmitter struct {
	send func(args ...interface{}) error
}

// Emit sends the signal with the given arguments.
func (e SignalEmitter) Emit(args ...interface{}) error {
	if e.send == nil {
		return errSignalNotBound
	}
	return e.send(args...)
}

type methodEntry struct {
	name   string
	method reflect.Method
}

// objectDispatcher is the per-registered-object dispatch table, built once
// at registerObject time by walking the value's methods and fields via
// reflection — the idiomatic-Go stand-in for the compile-time derive macro
// spec §4.8/§9 describes. Grounded on godbus/dbus's export.go genMethods,
// extended with struct-tag-driven property and signal inventories since
// this library has no interface-declaration type of its own.
type objectDispatcher struct {
	value      reflect.Value // the registered pointer
	ifaceName  string
	busName    string
	path       ObjectPath
	methods    map[string]methodEntry
	properties map[string]*propertyField
	introXML   string
}

func newObjectDispatcher(conn *Connection, v interface{}, ifaceName, busName string, path ObjectPath) (*objectDispatcher, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("dbus: registerObject requires a pointer, got %s", rv.Type())
	}

	d := &objectDispatcher{
		value:      rv,
		ifaceName:  ifaceName,
		busName:    busName,
		path:       path,
		methods:    genMethods(rv),
		properties: genProperties(rv),
	}

	for i := 0; i < rv.Elem().NumField(); i++ {
		f := rv.Elem().Type().Field(i)
		if f.PkgPath != "" {
			continue
		}
		if tag, ok := f.Tag.Lookup("dbus"); ok && tag == "signal" {
			fv := rv.Elem().Field(i)
			if fv.Type() != reflect.TypeOf(SignalEmitter{}) {
				continue
			}
			fv.Set(reflect.ValueOf(SignalEmitter{send: d.bindSignalEmitter(conn, f.Name)}))
		}
	}

	introXML, err := generateIntrospectionXML(d)
	if err != nil {
		return nil, err
	}
	d.introXML = introXML
	return d, nil
}

// genMethods inventories exported methods whose last return value is an
// error — the lifecycle-primitive exclusion spec §4.8 calls for ("not a
// lifecycle primitive like init") is expressed here as "doesn't look like
// a dispatchable method", i.e. has no trailing error return.
func genMethods(rv reflect.Value) map[string]methodEntry {
	out := make(map[string]methodEntry)
	t := rv.Type()
	errType := reflect.TypeOf((*error)(nil)).Elem()
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		mt := m.Type
		if mt.NumOut() == 0 || !mt.Out(mt.NumOut()-1).Implements(errType) {
			continue
		}
		out[m.Name] = methodEntry{name: m.Name, method: m}
	}
	return out
}

// genProperties inventories non-signal fields tagged `dbus:"property,..."`.
// Tag grammar: `dbus:"property,r"`, `dbus:"property,w"`, or
// `dbus:"property,rw"`; an explicit name may follow a second comma, e.g.
// `dbus:"property,rw,Count"`, defaulting to the Go field name.
func genProperties(rv reflect.Value) map[string]*propertyField {
	out := make(map[string]*propertyField)
	elem := rv.Elem()
	t := elem.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		tag, ok := f.Tag.Lookup("dbus")
		if !ok || !strings.HasPrefix(tag, "property") {
			continue
		}
		parts := strings.Split(tag, ",")
		access := accessRead
		name := f.Name
		if len(parts) > 1 {
			switch parts[1] {
			case "r":
				access = accessRead
			case "w":
				access = accessWrite
			case "rw":
				access = accessReadWrite
			}
		}
		if len(parts) > 2 && parts[2] != "" {
			name = parts[2]
		}
		out[name] = &propertyField{name: name, fieldIndex: i, access: access}
	}
	return out
}

// handleCall dispatches one inbound MethodCall to this object, returning
// the Message to send back (a MethodReturn or an Error), or nil if no
// reply should be sent (a successful method call or Set that carries
// NoReplyExpected). Get on a property that is not readable answers with an
// InvalidArgs error, not with silence.
func (d *objectDispatcher) handleCall(conn *Connection, msg *Message) *Message {
	switch msg.Interface {
	case ifacePeer:
		switch msg.Member {
		case "Ping":
			return conn.newMethodReturn(msg, "", nil)
		case "GetMachineId":
			sig, body, _ := encodeBody(msg.byteOrder(), "")
			return conn.newMethodReturnRaw(msg, sig, body)
		}
	case ifaceIntrospectable:
		if msg.Member == "Introspect" {
			sig, body, err := encodeBody(msg.byteOrder(), d.introXML)
			if err != nil {
				return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.Failed", err.Error())
			}
			return conn.newMethodReturnRaw(msg, sig, body)
		}
	case ifaceProperties:
		return d.handleProperties(conn, msg)
	}

	entry, ok := d.methods[msg.Member]
	if !ok {
		return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.UnknownMethod",
			fmt.Sprintf("no method %q on interface %q", msg.Member, d.ifaceName))
	}

	results, err := d.invoke(entry, msg)
	if err != nil {
		return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.InvalidArgs", err.Error())
	}
	if msg.Flags&FlagNoReplyExpected != 0 {
		return nil
	}
	sig, body, err := encodeBody(msg.byteOrder(), results...)
	if err != nil {
		return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.Failed", err.Error())
	}
	return conn.newMethodReturnRaw(msg, sig, body)
}

func (d *objectDispatcher) invoke(entry methodEntry, msg *Message) ([]interface{}, error) {
	mt := entry.method.Type
	numArgs := mt.NumIn() - 1 // exclude receiver
	args, err := decodeMethodArgs(mt, msg)
	if err != nil {
		return nil, err
	}
	if len(args) != numArgs {
		return nil, fmt.Errorf("dbus: method %s expects %d arguments, got %d", entry.name, numArgs, len(args))
	}

	callArgs := make([]reflect.Value, 0, numArgs+1)
	callArgs = append(callArgs, d.value)
	for _, a := range args {
		callArgs = append(callArgs, reflect.ValueOf(a))
	}
	out := entry.method.Func.Call(callArgs)

	errVal := out[len(out)-1]
	if !errVal.IsNil() {
		return nil, errVal.Interface().(error)
	}
	results := make([]interface{}, 0, len(out)-1)
	for i := 0; i < len(out)-1; i++ {
		results = append(results, out[i].Interface())
	}
	return results, nil
}

// decodeMethodArgs decodes the call body into Go values typed per the
// method's declared input parameters.
func decodeMethodArgs(mt reflect.Type, msg *Message) ([]interface{}, error) {
	numArgs := mt.NumIn() - 1
	ptrs := make([]interface{}, numArgs)
	for i := 0; i < numArgs; i++ {
		ptrs[i] = reflect.New(mt.In(i + 1)).Interface()
	}
	ifaces := make([]interface{}, numArgs)
	if err := decodeBody(msg.Signature, msg.Body, msg.byteOrder(), ptrs...); err != nil {
		return nil, err
	}
	for i, p := range ptrs {
		ifaces[i] = reflect.ValueOf(p).Elem().Interface()
	}
	return ifaces, nil
}

func (d *objectDispatcher) handleProperties(conn *Connection, msg *Message) *Message {
	switch msg.Member {
	case "GetAll":
		var reqIface string
		if err := decodeBody(msg.Signature, msg.Body, msg.byteOrder(), &reqIface); err != nil {
			return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.InvalidArgs", err.Error())
		}
		all := map[string]Variant{}
		if reqIface == d.ifaceName {
			for name, pf := range d.properties {
				if !pf.access.readable() {
					continue
				}
				all[name] = Variant{Value: d.value.Elem().Field(pf.fieldIndex).Interface()}
			}
		}
		sig, body, err := encodeBody(msg.byteOrder(), all)
		if err != nil {
			return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.Failed", err.Error())
		}
		return conn.newMethodReturnRaw(msg, sig, body)

	case "Get":
		var reqIface, name string
		if err := decodeBody(msg.Signature, msg.Body, msg.byteOrder(), &reqIface, &name); err != nil {
			return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.InvalidArgs", err.Error())
		}
		pf, ok := d.properties[name]
		if !ok || !pf.access.readable() || reqIface != d.ifaceName {
			// Resolved open question (spec §9): reply InvalidArgs rather
			// than leaving the peer without a reply.
			return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.InvalidArgs",
				fmt.Sprintf("no readable property %q on %q", name, reqIface))
		}
		v := Variant{Value: d.value.Elem().Field(pf.fieldIndex).Interface()}
		sig, body, err := encodeBody(msg.byteOrder(), v)
		if err != nil {
			return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.Failed", err.Error())
		}
		return conn.newMethodReturnRaw(msg, sig, body)

	case "Set":
		var reqIface, name string
		var value Variant
		if err := decodeBody(msg.Signature, msg.Body, msg.byteOrder(), &reqIface, &name, &value); err != nil {
			return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.InvalidArgs", err.Error())
		}
		pf, ok := d.properties[name]
		if !ok || !pf.access.writable() || reqIface != d.ifaceName {
			return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.InvalidArgs",
				fmt.Sprintf("no writable property %q on %q", name, reqIface))
		}
		field := d.value.Elem().Field(pf.fieldIndex)
		newVal := reflect.ValueOf(value.Value)
		if !newVal.Type().AssignableTo(field.Type()) {
			return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.InvalidArgs",
				fmt.Sprintf("property %q expects %s, got %s", name, field.Type(), newVal.Type()))
		}
		field.Set(newVal)

		changed := map[string]Variant{name: {Value: newVal.Interface()}}
		if err := conn.emitPropertiesChanged(d.ifaceName, d.path, changed); err != nil {
			return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.Failed", err.Error())
		}
		if msg.Flags&FlagNoReplyExpected != 0 {
			return nil
		}
		return conn.newMethodReturn(msg, "", nil)
	}
	return conn.newErrorReply(msg, "org.freedesktop.DBus.Error.UnknownMethod",
		fmt.Sprintf("no method %q on %s", msg.Member, ifaceProperties))
}

// bindSignalEmitter returns the function a registered object's signal field
// is set to: calling it sends a Signal message with the interface and path
// this object was registered under, and member equal to the field's own
// name (spec §4.8's "signals: fields tagged as signal carriers").
func (d *objectDispatcher) bindSignalEmitter(conn *Connection, member string) func(args ...interface{}) error {
	return func(args ...interface{}) error {
		sig, body, err := encodeBody(hostOrder, args...)
		if err != nil {
			return err
		}
		return conn.sendMessage(&Message{
			Type:      TypeSignal,
			Path:      d.path,
			Interface: d.ifaceName,
			Member:    member,
			Signature: sig,
			Body:      body,
		})
	}
}
