package dbus

import (
	"fmt"
	"reflect"
)

// ObjectPath is a slash-delimited name identifying an exported object on a
// connection. It marshals to the 'o' wire code.
type ObjectPath string

// GetObjectPath lets ObjectPath itself satisfy HasObjectPath.
func (o ObjectPath) GetObjectPath() ObjectPath { return o }

// HasObjectPath is implemented by types that marshal as an ObjectPath even
// though they carry additional host-language state.
type HasObjectPath interface {
	GetObjectPath() ObjectPath
}

// String is a D-Bus string. It marshals to the 's' wire code, the same as a
// plain Go string.
type String string

// Signature is a D-Bus type signature string. It marshals to the 'g' wire
// code, distinct from a plain string ('s').
type Signature string

// UnixFdIndex is an index into a message's out-of-band file descriptor
// array. It marshals to the 'h' wire code. Actual descriptor passing is out
// of scope (see spec Non-goals); only the index field is supported.
type UnixFdIndex uint32

// Variant is a value whose static D-Bus type is "any". On the wire it is
// carried as (signature, aligned value).
type Variant struct {
	Value interface{}
}

// VariantSignature returns the signature of the value currently held by v.
func (v Variant) VariantSignature() (Signature, error) {
	return SignatureOf(reflect.TypeOf(v.Value))
}

var (
	typeHasObjectPath  = reflect.TypeOf((*HasObjectPath)(nil)).Elem()
	typeVariant        = reflect.TypeOf(Variant{})
	typeSignature      = reflect.TypeOf(Signature(""))
	typeObjectPath     = reflect.TypeOf(ObjectPath(""))
	typeUnixFdIndex    = reflect.TypeOf(UnixFdIndex(0))
	typeBlankInterface = reflect.TypeOf((*interface{})(nil)).Elem()
)

// SignatureOf derives the D-Bus signature string for a host Go type. See
// sigmap.go for the kind-by-kind mapping rules and the list of rejected
// kinds (int8 and float32 have no D-Bus equivalent; bare int and uint have
// no fixed wire width).
func SignatureOf(t reflect.Type) (Signature, error) {
	return signatureOf(t)
}

// RemoteError is returned by a Proxy call when the peer replied with
// MessageType Error. Name is the D-Bus error name
// (e.g. "org.freedesktop.DBus.Error.UnknownMethod"); Message is the first
// string argument of the error body, if any.
type RemoteError struct {
	Name    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}
