package dbus

import (
	"fmt"
	"math"
	"reflect"
)

// reader pulls typed values from a byte slice given a signature string.
// Grounded on z3ntu-go-dbus's newmarshal.go decoder, generalized with an
// explicit base offset (mirroring writer's base) and extended with
// ObjectPath/Signature/UnixFdIndex/Variant decoding and the stricter error
// taxonomy spec §4.3/§7 require (SignatureMismatch, EndOfBody, boolean
// 0/1 enforcement, dict-entry arrays).
type reader struct {
	sig   Signature
	data  []byte
	order byteOrder

	sigOff  int
	dataOff int
	base    int // offset of data[0] relative to start of message body
}

func newReader(sig Signature, data []byte, order byteOrder, base int) *reader {
	return &reader{sig: sig, data: data, order: order, base: base}
}

func (r *reader) offset() int { return r.base + r.dataOff }

func (r *reader) alignTo(align int) {
	r.dataOff += padLen(r.offset(), align)
}

func (r *reader) remaining() int { return len(r.data) - r.dataOff }

func (r *reader) nextCode() (byte, error) {
	if r.sigOff >= len(r.sig) {
		return 0, errSignatureEnd
	}
	c := r.sig[r.sigOff]
	r.sigOff++
	return c, nil
}

func (r *reader) expectCode(want byte) error {
	got, err := r.nextCode()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: expected %q, got %q", errSignatureMismatch, want, got)
	}
	return nil
}

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, errEndOfBody
	}
	v := r.data[r.dataOff]
	r.dataOff++
	return v, nil
}

func (r *reader) readInt16() (int16, error) {
	r.alignTo(alignInt16)
	if r.remaining() < 2 {
		return 0, errEndOfBody
	}
	v := int16(r.order.Uint16(r.data[r.dataOff:]))
	r.dataOff += 2
	return v, nil
}

func (r *reader) readUint16() (uint16, error) {
	r.alignTo(alignUint16)
	if r.remaining() < 2 {
		return 0, errEndOfBody
	}
	v := r.order.Uint16(r.data[r.dataOff:])
	r.dataOff += 2
	return v, nil
}

func (r *reader) readInt32() (int32, error) {
	r.alignTo(alignInt32)
	if r.remaining() < 4 {
		return 0, errEndOfBody
	}
	v := int32(r.order.Uint32(r.data[r.dataOff:]))
	r.dataOff += 4
	return v, nil
}

func (r *reader) readUint32() (uint32, error) {
	r.alignTo(alignUint32)
	if r.remaining() < 4 {
		return 0, errEndOfBody
	}
	v := r.order.Uint32(r.data[r.dataOff:])
	r.dataOff += 4
	return v, nil
}

func (r *reader) readInt64() (int64, error) {
	r.alignTo(alignInt64)
	if r.remaining() < 8 {
		return 0, errEndOfBody
	}
	v := int64(r.order.Uint64(r.data[r.dataOff:]))
	r.dataOff += 8
	return v, nil
}

func (r *reader) readUint64() (uint64, error) {
	r.alignTo(alignUint64)
	if r.remaining() < 8 {
		return 0, errEndOfBody
	}
	v := r.order.Uint64(r.data[r.dataOff:])
	r.dataOff += 8
	return v, nil
}

func (r *reader) readDouble() (float64, error) {
	v, err := r.readUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *reader) readBool() (bool, error) {
	v, err := r.readUint32()
	if err != nil {
		return false, err
	}
	if v != 0 && v != 1 {
		return false, errInvalidBoolean
	}
	return v == 1, nil
}

// readString reads the 's'/'o' wire form. The returned string is a copy of
// the bytes; it does not alias r.data.
func (r *reader) readString() (string, error) {
	length, err := r.readUint32()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(length)+1 {
		return "", errEndOfBody
	}
	if r.data[r.dataOff+int(length)] != 0 {
		return "", errMissingNullTerminator
	}
	value := string(r.data[r.dataOff : r.dataOff+int(length)])
	r.dataOff += int(length) + 1
	return value, nil
}

// readSignatureString reads the 'g' wire form.
func (r *reader) readSignatureString() (Signature, error) {
	length, err := r.readByte()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(length)+1 {
		return "", errEndOfBody
	}
	if r.data[r.dataOff+int(length)] != 0 {
		return "", errMissingNullTerminator
	}
	value := Signature(r.data[r.dataOff : r.dataOff+int(length)])
	r.dataOff += int(length) + 1
	return value, nil
}

// readValue decodes into v according to the signature cursor, dispatching
// containers recursively. v must be addressable (the caller passes
// reflect.ValueOf(ptr).Elem()).
func (r *reader) readValue(v reflect.Value) error {
	t := v.Type()

	if t.AssignableTo(typeHasObjectPath) || t == typeObjectPath {
		if err := r.expectCode('o'); err != nil {
			return err
		}
		s, err := r.readString()
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(ObjectPath(s)).Convert(t))
		return nil
	}

	switch t.Kind() {
	case reflect.Uint8:
		if err := r.expectCode('y'); err != nil {
			return err
		}
		b, err := r.readByte()
		if err != nil {
			return err
		}
		v.SetUint(uint64(b))
		return nil
	case reflect.Bool:
		if err := r.expectCode('b'); err != nil {
			return err
		}
		b, err := r.readBool()
		if err != nil {
			return err
		}
		v.SetBool(b)
		return nil
	case reflect.Int16:
		if err := r.expectCode('n'); err != nil {
			return err
		}
		x, err := r.readInt16()
		if err != nil {
			return err
		}
		v.SetInt(int64(x))
		return nil
	case reflect.Uint16:
		if err := r.expectCode('q'); err != nil {
			return err
		}
		x, err := r.readUint16()
		if err != nil {
			return err
		}
		v.SetUint(uint64(x))
		return nil
	case reflect.Int32:
		if err := r.expectCode('i'); err != nil {
			return err
		}
		x, err := r.readInt32()
		if err != nil {
			return err
		}
		v.SetInt(int64(x))
		return nil
	case reflect.Uint32:
		want := byte('u')
		if t == typeUnixFdIndex {
			want = 'h'
		}
		if err := r.expectCode(want); err != nil {
			return err
		}
		x, err := r.readUint32()
		if err != nil {
			return err
		}
		v.SetUint(uint64(x))
		return nil
	case reflect.Int64:
		if err := r.expectCode('x'); err != nil {
			return err
		}
		x, err := r.readInt64()
		if err != nil {
			return err
		}
		v.SetInt(x)
		return nil
	case reflect.Uint64:
		if err := r.expectCode('t'); err != nil {
			return err
		}
		x, err := r.readUint64()
		if err != nil {
			return err
		}
		v.SetUint(x)
		return nil
	case reflect.Float64:
		if err := r.expectCode('d'); err != nil {
			return err
		}
		x, err := r.readDouble()
		if err != nil {
			return err
		}
		v.SetFloat(x)
		return nil
	case reflect.String:
		if t == typeSignature {
			if err := r.expectCode('g'); err != nil {
				return err
			}
			s, err := r.readSignatureString()
			if err != nil {
				return err
			}
			v.SetString(string(s))
			return nil
		}
		if err := r.expectCode('s'); err != nil {
			return err
		}
		s, err := r.readString()
		if err != nil {
			return err
		}
		v.SetString(s)
		return nil
	case reflect.Array, reflect.Slice:
		return r.readArray(v)
	case reflect.Map:
		return r.readMap(v)
	case reflect.Struct:
		if t == typeVariant {
			return r.readVariant(v)
		}
		return r.readStruct(v)
	case reflect.Ptr:
		if v.IsNil() {
			v.Set(reflect.New(t.Elem()))
		}
		return r.readValue(v.Elem())
	case reflect.Interface:
		return r.readInterface(v)
	}
	return fmt.Errorf("%w: %s", errUnsupportedType, t)
}

func (r *reader) readArray(v reflect.Value) error {
	elemType := v.Type().Elem()
	if elemType.Kind() == reflect.Uint8 && elemType == reflect.TypeOf(byte(0)) {
		if err := r.expectCode('a'); err != nil {
			return err
		}
		if err := r.expectCode('y'); err != nil {
			return err
		}
		length, err := r.readUint32()
		if err != nil {
			return err
		}
		if r.remaining() < int(length) {
			return errEndOfBody
		}
		b := make([]byte, length)
		copy(b, r.data[r.dataOff:r.dataOff+int(length)])
		r.dataOff += int(length)
		v.Set(reflect.ValueOf(b))
		return nil
	}

	if err := r.expectCode('a'); err != nil {
		return err
	}
	elemSigOff := r.sigOff
	length, err := r.readUint32()
	if err != nil {
		return err
	}
	elemAlign, err := alignOfType(elemType)
	if err != nil {
		return err
	}
	r.alignTo(elemAlign)
	arrayEnd := r.dataOff + int(length)
	if length < 0 || r.remaining() < int(length) {
		return errEndOfBody
	}

	if v.Kind() == reflect.Slice {
		v.Set(reflect.MakeSlice(v.Type(), 0, 0))
	}
	for r.dataOff < arrayEnd {
		r.sigOff = elemSigOff
		elem := reflect.New(elemType).Elem()
		if err := r.readValue(elem); err != nil {
			return err
		}
		v.Set(reflect.Append(v, elem))
	}
	// advance the signature cursor past the element's single complete type
	r.sigOff = elemSigOff
	if err := r.skipSignature(); err != nil {
		return err
	}
	return nil
}

func (r *reader) readMap(v reflect.Value) error {
	if err := r.expectCode('a'); err != nil {
		return err
	}
	if err := r.expectCode('{'); err != nil {
		return err
	}
	entrySigOff := r.sigOff
	length, err := r.readUint32()
	if err != nil {
		return err
	}
	r.alignTo(alignDictEntry)
	arrayEnd := r.dataOff + int(length)
	if length < 0 || r.remaining() < int(length) {
		return errEndOfBody
	}

	v.Set(reflect.MakeMap(v.Type()))
	keyType := v.Type().Key()
	valType := v.Type().Elem()
	for r.dataOff < arrayEnd {
		r.sigOff = entrySigOff
		r.alignTo(alignDictEntry)
		key := reflect.New(keyType).Elem()
		if err := r.readValue(key); err != nil {
			return err
		}
		val := reflect.New(valType).Elem()
		if err := r.readValue(val); err != nil {
			return err
		}
		v.SetMapIndex(key, val)
	}
	r.sigOff = entrySigOff
	if err := r.skipSignature(); err != nil { // key
		return err
	}
	if err := r.skipSignature(); err != nil { // value
		return err
	}
	if err := r.expectCode('}'); err != nil {
		return err
	}
	return nil
}

func (r *reader) readStruct(v reflect.Value) error {
	if err := r.expectCode('('); err != nil {
		return err
	}
	r.alignTo(alignStruct)
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		if f.PkgPath != "" {
			continue
		}
		if err := r.readValue(v.Field(i)); err != nil {
			return err
		}
	}
	return r.expectCode(')')
}

// readVariant reads the inner signature, then decodes a value of the Go
// type that signatureOf would map back to that signature. Since Go has no
// general inverse of signatureOf, the decoded payload is stored as the
// nearest matching dynamic type: basic kinds decode to their Go
// equivalent, arrays to []interface{}, dict-entries to
// map[<basic Go key type>]interface{}, structs to []interface{} (field
// list). A caller that wants a specific Go type out of the stored
// interface{} — GetProperty's type parameter T — does the comparison
// itself and returns errNoMatchingUnionField on mismatch; this decode step
// never rejects a value on type grounds.
func (r *reader) readVariant(v reflect.Value) error {
	if err := r.expectCode('v'); err != nil {
		return err
	}
	innerSig, err := r.readSignatureString()
	if err != nil {
		return err
	}
	savedSig, savedOff := r.sig, r.sigOff
	r.sig = innerSig
	r.sigOff = 0

	val, err := r.readDynamic()
	r.sig, r.sigOff = savedSig, savedOff
	if err != nil {
		return err
	}
	v.Set(reflect.ValueOf(Variant{Value: val}))
	return nil
}

func (r *reader) readInterface(v reflect.Value) error {
	val, err := r.readDynamic()
	if err != nil {
		return err
	}
	v.Set(reflect.ValueOf(val))
	return nil
}

// readDynamic decodes one single complete type at the current signature
// cursor into a generic Go value, used for Variant payloads and interface{}
// targets where the caller has not pinned a concrete Go type.
func (r *reader) readDynamic() (interface{}, error) {
	if r.sigOff >= len(r.sig) {
		return nil, errSignatureEnd
	}
	code := r.sig[r.sigOff]
	switch code {
	case 'y':
		var x uint8
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'b':
		var x bool
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'n':
		var x int16
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'q':
		var x uint16
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'i':
		var x int32
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'u':
		var x uint32
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'x':
		var x int64
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 't':
		var x uint64
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'd':
		var x float64
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 's':
		var x string
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'o':
		var x ObjectPath
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'g':
		var x Signature
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'h':
		var x UnixFdIndex
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'v':
		var x Variant
		return x, r.readValue(reflect.ValueOf(&x).Elem())
	case 'a':
		if r.sigOff+1 < len(r.sig) && r.sig[r.sigOff+1] == '{' {
			return r.readGenericDictEntryArray()
		}
		var x []interface{}
		return x, r.readGenericArray(&x)
	case '(':
		r.sigOff++
		r.alignTo(alignStruct)
		fields := make([]interface{}, 0)
		for {
			if r.sigOff >= len(r.sig) {
				return nil, errSignatureEnd
			}
			if r.sig[r.sigOff] == ')' {
				r.sigOff++
				return fields, nil
			}
			f, err := r.readDynamic()
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
		}
	}
	return nil, fmt.Errorf("%w: %q", errUnsupportedType, code)
}

func (r *reader) readGenericArray(out *[]interface{}) error {
	if err := r.expectCode('a'); err != nil {
		return err
	}
	elemSigOff := r.sigOff
	length, err := r.readUint32()
	if err != nil {
		return err
	}
	r.alignTo(alignOf(r.sig[elemSigOff]))
	arrayEnd := r.dataOff + int(length)
	result := make([]interface{}, 0)
	for r.dataOff < arrayEnd {
		r.sigOff = elemSigOff
		v, err := r.readDynamic()
		if err != nil {
			return err
		}
		result = append(result, v)
	}
	r.sigOff = elemSigOff
	if err := r.skipSignature(); err != nil {
		return err
	}
	*out = result
	return nil
}

// dictKeyGoType maps a dict-entry's key type code to the Go type used to
// back the map readGenericDictEntryArray produces. D-Bus requires
// dict-entry keys to be a basic (non-container) type, so every valid code
// maps directly to a comparable Go type usable as a map key.
func dictKeyGoType(code byte) (reflect.Type, error) {
	switch code {
	case 'y':
		return reflect.TypeOf(byte(0)), nil
	case 'b':
		return reflect.TypeOf(false), nil
	case 'n':
		return reflect.TypeOf(int16(0)), nil
	case 'q':
		return reflect.TypeOf(uint16(0)), nil
	case 'i':
		return reflect.TypeOf(int32(0)), nil
	case 'u':
		return reflect.TypeOf(uint32(0)), nil
	case 'x':
		return reflect.TypeOf(int64(0)), nil
	case 't':
		return reflect.TypeOf(uint64(0)), nil
	case 'd':
		return reflect.TypeOf(float64(0)), nil
	case 's':
		return reflect.TypeOf(""), nil
	case 'o':
		return typeObjectPath, nil
	case 'g':
		return typeSignature, nil
	case 'h':
		return typeUnixFdIndex, nil
	default:
		return nil, fmt.Errorf("%w: key type %q", errUnsupportedDictBacking, code)
	}
}

// readGenericDictEntryArray decodes a dict-entry array nested under a
// Variant or interface{} target (readDynamic's "a{" case) into a
// map[K]interface{} where K is whatever basic Go type the key's wire type
// code maps to — not hardcoded to string, since spec-legal dict-entry keys
// include any basic type (e.g. a{iv}).
func (r *reader) readGenericDictEntryArray() (interface{}, error) {
	if err := r.expectCode('a'); err != nil {
		return nil, err
	}
	if err := r.expectCode('{'); err != nil {
		return nil, err
	}
	if r.sigOff >= len(r.sig) {
		return nil, errSignatureEnd
	}
	keyType, err := dictKeyGoType(r.sig[r.sigOff])
	if err != nil {
		return nil, err
	}

	entrySigOff := r.sigOff
	length, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	r.alignTo(alignDictEntry)
	arrayEnd := r.dataOff + int(length)

	result := reflect.MakeMap(reflect.MapOf(keyType, typeBlankInterface))
	for r.dataOff < arrayEnd {
		r.sigOff = entrySigOff
		r.alignTo(alignDictEntry)
		key := reflect.New(keyType).Elem()
		if err := r.readValue(key); err != nil {
			return nil, err
		}
		val, err := r.readDynamic()
		if err != nil {
			return nil, err
		}
		result.SetMapIndex(key, reflect.ValueOf(&val).Elem())
	}
	r.sigOff = entrySigOff
	if err := r.skipSignature(); err != nil { // key
		return nil, err
	}
	if err := r.skipSignature(); err != nil { // value
		return nil, err
	}
	if err := r.expectCode('}'); err != nil {
		return nil, err
	}
	return result.Interface(), nil
}

// skipSignature advances the signature cursor past exactly one single
// complete type without touching the data cursor, used after an array or
// dict-entry element has already been decoded to resynchronise the outer
// caller's signature position.
func (r *reader) skipSignature() error {
	code, err := r.nextCode()
	if err != nil {
		return err
	}
	switch code {
	case 'a':
		next, err := r.nextCode()
		if err != nil {
			return err
		}
		if next == '{' {
			if err := r.skipSignatureRaw(); err != nil { // key
				return err
			}
			if err := r.skipSignatureRaw(); err != nil { // value
				return err
			}
			return r.expectCode('}')
		}
		r.sigOff--
		return r.skipSignatureRaw()
	case '(':
		for {
			if r.sigOff >= len(r.sig) {
				return errSignatureEnd
			}
			if r.sig[r.sigOff] == ')' {
				r.sigOff++
				return nil
			}
			if err := r.skipSignatureRaw(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *reader) skipSignatureRaw() error {
	if r.sigOff >= len(r.sig) {
		return errSignatureEnd
	}
	return r.skipSignature()
}
