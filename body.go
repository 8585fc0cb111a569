package dbus

import (
	"encoding/binary"
	"reflect"
)

// encodeBody implements the Body codec's Encode side (spec §4.4): given an
// ordered tuple of values, produce the concatenated signature (never
// wrapped in parentheses) and the serialized bytes. Grounded on
// z3ntu-go-dbus's newmarshal.go encoder.Append, split out of the Writer so
// the Message codec can call it independently of the header.
func encodeBody(order binary.ByteOrder, values ...interface{}) (Signature, []byte, error) {
	sig, err := signatureOfTuple(values)
	if err != nil {
		return "", nil, err
	}
	w := newWriter(order, 0)
	for _, v := range values {
		if err := w.writeValue(reflect.ValueOf(v)); err != nil {
			return "", nil, err
		}
	}
	return sig, w.buf, nil
}

// decodeBody implements the Decode side: given body bytes, a signature, and
// an endianness, decode into the caller-supplied pointers in order. The
// signature must be consumed exactly once every out pointer has been
// filled, matching spec §4.4's "consumed exactly" requirement.
func decodeBody(sig Signature, body []byte, order binary.ByteOrder, out ...interface{}) error {
	r := newReader(sig, body, order, 0)
	for _, o := range out {
		v := reflect.ValueOf(o)
		if v.Kind() != reflect.Ptr {
			return errUnsupportedType
		}
		if err := r.readValue(v.Elem()); err != nil {
			return err
		}
	}
	if r.sigOff != len(r.sig) {
		return errSignatureMismatch
	}
	return nil
}

// decodeBodyDynamic decodes every single complete type remaining in sig
// into generic Go values, used when the caller doesn't know the expected
// Go types ahead of time (e.g. a Proxy.rawCall result the caller hasn't
// pinned to a struct yet).
func decodeBodyDynamic(sig Signature, body []byte, order binary.ByteOrder) ([]interface{}, error) {
	r := newReader(sig, body, order, 0)
	var values []interface{}
	for r.sigOff < len(r.sig) {
		v, err := r.readDynamic()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}
