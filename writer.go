package dbus

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// writer appends typed values to a growing byte buffer, honouring D-Bus
// alignment and a chosen endianness. Grounded on z3ntu-go-dbus's
// newmarshal.go encoder, generalized with an explicit base offset (so a
// writer for a nested container can align relative to "start of message
// body" per spec §4.2) and extended with the ObjectPath/Signature/
// UnixFdIndex/Variant special cases encoder.go only partially handled.
type writer struct {
	order  binary.ByteOrder
	base   int // offset of buf[0] relative to start of message body
	buf    []byte
}

func newWriter(order binary.ByteOrder, base int) *writer {
	return &writer{order: order, base: base}
}

func (w *writer) offset() int { return w.base + len(w.buf) }

// padTo appends zero bytes until the writer's absolute offset is a multiple
// of align.
func (w *writer) padTo(align int) {
	n := padLen(w.offset(), align)
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) writeByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) writeBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) writeInt16(v int16) {
	w.padTo(alignInt16)
	var tmp [2]byte
	w.order.PutUint16(tmp[:], uint16(v))
	w.writeBytes(tmp[:])
}

func (w *writer) writeUint16(v uint16) {
	w.padTo(alignUint16)
	var tmp [2]byte
	w.order.PutUint16(tmp[:], v)
	w.writeBytes(tmp[:])
}

func (w *writer) writeInt32(v int32) {
	w.padTo(alignInt32)
	var tmp [4]byte
	w.order.PutUint32(tmp[:], uint32(v))
	w.writeBytes(tmp[:])
}

func (w *writer) writeUint32(v uint32) {
	w.padTo(alignUint32)
	var tmp [4]byte
	w.order.PutUint32(tmp[:], v)
	w.writeBytes(tmp[:])
}

// writeU32At backpatches 4 bytes at an earlier absolute position (used to
// record an array's payload byte-length after the fact).
func (w *writer) writeU32At(absPos int, v uint32) {
	pos := absPos - w.base
	var tmp [4]byte
	w.order.PutUint32(tmp[:], v)
	copy(w.buf[pos:pos+4], tmp[:])
}

func (w *writer) writeInt64(v int64) {
	w.padTo(alignInt64)
	var tmp [8]byte
	w.order.PutUint64(tmp[:], uint64(v))
	w.writeBytes(tmp[:])
}

func (w *writer) writeUint64(v uint64) {
	w.padTo(alignUint64)
	var tmp [8]byte
	w.order.PutUint64(tmp[:], v)
	w.writeBytes(tmp[:])
}

func (w *writer) writeDouble(v float64) {
	w.writeUint64(math.Float64bits(v))
}

func (w *writer) writeBool(v bool) {
	var u uint32
	if v {
		u = 1
	}
	w.writeUint32(u)
}

// writeString emits the 's'/'o' wire form: uint32 length, bytes, NUL.
func (w *writer) writeString(s string) {
	w.padTo(alignString)
	w.writeUint32(uint32(len(s)))
	w.writeBytes([]byte(s))
	w.writeByte(0)
}

// writeSignatureString emits the 'g' wire form: uint8 length, bytes, NUL.
func (w *writer) writeSignatureString(s Signature) error {
	if len(s) > 255 {
		return errSignatureTooLong
	}
	w.padTo(alignSignature)
	w.writeByte(byte(len(s)))
	w.writeBytes([]byte(s))
	w.writeByte(0)
	return nil
}

// writeSignatureOf emits the 'g' encoding of signatureOf(t).
func (w *writer) writeSignatureOf(t reflect.Type) error {
	sig, err := signatureOf(t)
	if err != nil {
		return err
	}
	return w.writeSignatureString(sig)
}

// writeValue marshals an arbitrary reflect.Value according to its static
// type, dispatching containers recursively. It is the single entry point
// used by the Body codec.
func (w *writer) writeValue(v reflect.Value) error {
	t := v.Type()

	if t.AssignableTo(typeHasObjectPath) {
		hop := v.Interface().(HasObjectPath)
		w.writeString(string(hop.GetObjectPath()))
		return nil
	}

	switch t.Kind() {
	case reflect.Uint8:
		w.padTo(alignByte)
		w.writeByte(byte(v.Uint()))
		return nil
	case reflect.Bool:
		w.writeBool(v.Bool())
		return nil
	case reflect.Int16:
		w.writeInt16(int16(v.Int()))
		return nil
	case reflect.Uint16:
		w.writeUint16(uint16(v.Uint()))
		return nil
	case reflect.Int32:
		w.writeInt32(int32(v.Int()))
		return nil
	case reflect.Uint32:
		w.writeUint32(uint32(v.Uint()))
		return nil
	case reflect.Int64:
		w.writeInt64(v.Int())
		return nil
	case reflect.Uint64:
		w.writeUint64(v.Uint())
		return nil
	case reflect.Float64:
		w.writeDouble(v.Float())
		return nil
	case reflect.Float32:
		return errF32CannotBeSerialized
	case reflect.Int8:
		return errI8CannotBeSerialized
	case reflect.String:
		switch t {
		case typeSignature:
			return w.writeSignatureString(Signature(v.String()))
		default:
			w.writeString(v.String())
			return nil
		}
	case reflect.Array, reflect.Slice:
		return w.writeArray(v)
	case reflect.Map:
		return w.writeMap(v)
	case reflect.Struct:
		if t == typeVariant {
			return w.writeVariant(v.Interface().(Variant))
		}
		return w.writeStruct(v)
	case reflect.Ptr:
		return w.writeValue(v.Elem())
	}
	return fmt.Errorf("dbus: unsupported type %s", t)
}

func (w *writer) writeArray(v reflect.Value) error {
	elemType := v.Type().Elem()
	if elemType.Kind() == reflect.Uint8 && elemType == reflect.TypeOf(byte(0)) {
		w.padTo(alignArray)
		lenPos := w.offset()
		w.writeUint32(0) // placeholder, backpatched below
		start := w.offset()
		b := make([]byte, v.Len())
		reflect.Copy(reflect.ValueOf(b), v)
		w.writeBytes(b)
		length := w.offset() - start
		if length < 0 || uint64(length) > (1<<26) {
			return errArrayTooLarge
		}
		w.writeU32At(lenPos, uint32(length))
		return nil
	}

	elemAlign, err := alignOfType(elemType)
	if err != nil {
		return err
	}

	w.padTo(alignArray)
	lenPos := w.offset()
	w.writeUint32(0)
	w.padTo(elemAlign)
	start := w.offset()
	for i := 0; i < v.Len(); i++ {
		if err := w.writeValue(v.Index(i)); err != nil {
			return err
		}
	}
	length := w.offset() - start
	if length < 0 || uint64(length) > (1<<26) {
		return errArrayTooLarge
	}
	w.writeU32At(lenPos, uint32(length))
	return nil
}

func (w *writer) writeMap(v reflect.Value) error {
	w.padTo(alignArray)
	lenPos := w.offset()
	w.writeUint32(0)
	w.padTo(alignDictEntry)
	start := w.offset()
	keys := v.MapKeys()
	for _, key := range keys {
		w.padTo(alignDictEntry)
		if err := w.writeValue(key); err != nil {
			return err
		}
		if err := w.writeValue(v.MapIndex(key)); err != nil {
			return err
		}
	}
	length := w.offset() - start
	if length < 0 || uint64(length) > (1<<26) {
		return errArrayTooLarge
	}
	w.writeU32At(lenPos, uint32(length))
	return nil
}

func (w *writer) writeStruct(v reflect.Value) error {
	w.padTo(alignStruct)
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		if f.PkgPath != "" {
			continue
		}
		if err := w.writeValue(v.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

// writeVariant emits the signature of the active value, then the value
// itself aligned per its own kind (spec §4.2's Variants paragraph).
func (w *writer) writeVariant(variant Variant) error {
	val := reflect.ValueOf(variant.Value)
	if !val.IsValid() {
		return fmt.Errorf("dbus: variant holds no value")
	}
	if err := w.writeSignatureOf(val.Type()); err != nil {
		return err
	}
	return w.writeValue(val)
}

// alignOfType resolves the wire alignment for a reflect.Type, used when
// padding an array's payload to its element alignment before the first
// element (required even for an empty array per spec §3).
func alignOfType(t reflect.Type) (int, error) {
	if t.AssignableTo(typeHasObjectPath) {
		return alignObjectPath, nil
	}
	switch t.Kind() {
	case reflect.Uint8:
		return alignByte, nil
	case reflect.Bool:
		return alignBool, nil
	case reflect.Int16, reflect.Uint16:
		return alignInt16, nil
	case reflect.Int32, reflect.Uint32:
		if t == typeUnixFdIndex {
			return alignUnixFd, nil
		}
		return alignInt32, nil
	case reflect.Int64, reflect.Uint64:
		return alignInt64, nil
	case reflect.Float64:
		return alignDouble, nil
	case reflect.String:
		if t == typeSignature {
			return alignSignature, nil
		}
		return alignString, nil
	case reflect.Array, reflect.Slice, reflect.Map:
		return alignArray, nil
	case reflect.Struct:
		if t == typeVariant {
			return alignVariant, nil
		}
		return alignStruct, nil
	case reflect.Ptr:
		return alignOfType(t.Elem())
	}
	return 0, fmt.Errorf("dbus: unsupported type %s", t)
}
