package dbus

import (
	"errors"
	"fmt"
	"reflect"
)

// signatureOf derives a D-Bus wire signature from a host Go type.
// Unified from z3ntu-go-dbus's types.go (SignatureOf) and newmarshal.go
// (_getSignature) into a single implementation, extended with four distinct
// string-like wrapper types (String, ObjectPath, Signature, UnixFdIndex) so
// the mapper can tell them apart from each other and from a plain byte
// sequence.
func signatureOf(t reflect.Type) (Signature, error) {
	if t == nil {
		return "", errors.New("dbus: cannot derive signature of nil type")
	}

	if t.AssignableTo(typeHasObjectPath) {
		return Signature("o"), nil
	}

	switch t.Kind() {
	case reflect.Uint8:
		return Signature("y"), nil
	case reflect.Bool:
		return Signature("b"), nil
	case reflect.Int16:
		return Signature("n"), nil
	case reflect.Uint16:
		return Signature("q"), nil
	case reflect.Int32:
		return Signature("i"), nil
	case reflect.Uint32:
		if t == typeUnixFdIndex {
			return Signature("h"), nil
		}
		return Signature("u"), nil
	case reflect.Int64:
		return Signature("x"), nil
	case reflect.Uint64:
		return Signature("t"), nil
	case reflect.Float64:
		return Signature("d"), nil
	case reflect.Float32:
		return "", errF32CannotBeSerialized
	case reflect.Int8:
		return "", errI8CannotBeSerialized
	case reflect.Int, reflect.Uint:
		return "", errUnsupportedIntWidth
	case reflect.String:
		switch t {
		case typeSignature:
			return Signature("g"), nil
		case typeObjectPath:
			return Signature("o"), nil
		default:
			return Signature("s"), nil
		}
	case reflect.Array, reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 && t.Elem() == reflect.TypeOf(byte(0)) {
			return Signature("ay"), nil
		}
		elemSig, err := signatureOf(t.Elem())
		if err != nil {
			return "", err
		}
		return Signature("a") + elemSig, nil
	case reflect.Map:
		if t.Key().Kind() == reflect.Map || t.Key().Kind() == reflect.Slice {
			return "", errors.New("dbus: map key must be a basic kind, got " + t.Key().String())
		}
		keySig, err := signatureOf(t.Key())
		if err != nil {
			return "", err
		}
		valSig, err := signatureOf(t.Elem())
		if err != nil {
			return "", err
		}
		return Signature("a{") + keySig + valSig + Signature("}"), nil
	case reflect.Struct:
		if t == typeVariant {
			return Signature("v"), nil
		}
		sig := Signature("(")
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue // unexported field, not part of the wire struct
			}
			fieldSig, err := signatureOf(f.Type)
			if err != nil {
				return "", err
			}
			sig += fieldSig
		}
		sig += Signature(")")
		return sig, nil
	case reflect.Ptr:
		return signatureOf(t.Elem())
	case reflect.Interface:
		// A bare interface{} only ever appears as the payload of a Variant,
		// whose own signature is always "v" — handled by the Struct case
		// above via typeVariant, so a loose interface type here is an error.
		return "", errors.New("dbus: cannot derive a static signature for interface type " + t.String())
	}

	return "", fmt.Errorf("%w: %s", errUnsupportedType, t)
}

// signatureOfTuple concatenates the signatures of an ordered list of values,
// the form the Body codec uses for a method call's argument list (never
// wrapped in parentheses — spec §4.4).
func signatureOfTuple(values []interface{}) (Signature, error) {
	var sig Signature
	for _, v := range values {
		s, err := signatureOf(reflect.TypeOf(v))
		if err != nil {
			return "", err
		}
		sig += s
	}
	return sig, nil
}
