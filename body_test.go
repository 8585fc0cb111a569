package dbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBodyRoundTripTuple(t *testing.T) {
	sig, buf, err := encodeBody(hostOrder, int32(42), []string{"a", "bb", "ccc"}, map[string]int32{"x": 1, "y": 2})
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	if want := Signature("iasa{si}"); sig != want {
		t.Fatalf("signature = %q, want %q", sig, want)
	}

	var (
		n       int32
		strs    []string
		numbers map[string]int32
	)
	if err := decodeBody(sig, buf, hostOrder, &n, &strs, &numbers); err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if n != 42 {
		t.Errorf("n = %d, want 42", n)
	}
	if diff := cmp.Diff([]string{"a", "bb", "ccc"}, strs); diff != "" {
		t.Errorf("strs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int32{"x": 1, "y": 2}, numbers); diff != "" {
		t.Errorf("numbers mismatch (-want +got):\n%s", diff)
	}
}

func TestBodyRoundTripEmptyArray(t *testing.T) {
	sig, buf, err := encodeBody(hostOrder, []string{})
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	var out []string
	if err := decodeBody(sig, buf, hostOrder, &out); err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("out = %v, want empty", out)
	}
}

func TestBodyRoundTripNonASCIIString(t *testing.T) {
	in := "héllo wörld é東京"
	sig, buf, err := encodeBody(hostOrder, in)
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	var out string
	if err := decodeBody(sig, buf, hostOrder, &out); err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if out != in {
		t.Errorf("out = %q, want %q", out, in)
	}
}

func TestBodyRoundTripLongString(t *testing.T) {
	in := make([]byte, 1<<16)
	for i := range in {
		in[i] = byte('a' + i%26)
	}
	sig, buf, err := encodeBody(hostOrder, string(in))
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	var out string
	if err := decodeBody(sig, buf, hostOrder, &out); err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if out != string(in) {
		t.Errorf("round-tripped long string mismatch, len got=%d want=%d", len(out), len(in))
	}
}

func TestBodyRoundTripVariant(t *testing.T) {
	sig, buf, err := encodeBody(hostOrder, Variant{Value: int32(7)})
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	var v Variant
	if err := decodeBody(sig, buf, hostOrder, &v); err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	n, ok := v.Value.(int32)
	if !ok || n != 7 {
		t.Errorf("v.Value = %#v, want int32(7)", v.Value)
	}
}

func TestBodyRoundTripArrayOfDictEntryVariants(t *testing.T) {
	in := map[string]Variant{
		"a": {Value: int32(1)},
		"b": {Value: "two"},
	}
	sig, buf, err := encodeBody(hostOrder, in)
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	var out map[string]Variant
	if err := decodeBody(sig, buf, hostOrder, &out); err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("out has %d entries, want 2", len(out))
	}
	if n, ok := out["a"].Value.(int32); !ok || n != 1 {
		t.Errorf("out[a] = %#v, want int32(1)", out["a"])
	}
	if s, ok := out["b"].Value.(string); !ok || s != "two" {
		t.Errorf("out[b] = %#v, want \"two\"", out["b"])
	}
}

func TestBodyRoundTripVariantIntKeyedDictEntryArray(t *testing.T) {
	in := map[int32]string{1: "one", 2: "two"}
	sig, buf, err := encodeBody(hostOrder, Variant{Value: in})
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	var v Variant
	if err := decodeBody(sig, buf, hostOrder, &v); err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	out, ok := v.Value.(map[int32]interface{})
	if !ok {
		t.Fatalf("v.Value = %#v, want map[int32]interface{}", v.Value)
	}
	if s, ok := out[1].(string); !ok || s != "one" {
		t.Errorf("out[1] = %#v, want \"one\"", out[1])
	}
	if s, ok := out[2].(string); !ok || s != "two" {
		t.Errorf("out[2] = %#v, want \"two\"", out[2])
	}
}

func TestDecodeBodySignatureMismatch(t *testing.T) {
	sig, buf, err := encodeBody(hostOrder, int32(1), "extra")
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	var n int32
	if err := decodeBody(sig, buf, hostOrder, &n); err != errSignatureMismatch {
		t.Errorf("decodeBody with leftover signature = %v, want errSignatureMismatch", err)
	}
}

func TestDecodeBodyInvalidBoolean(t *testing.T) {
	w := newWriter(hostOrder, 0)
	w.writeUint32(2)
	if err := decodeBody("b", w.buf, hostOrder, new(bool)); err != errInvalidBoolean {
		t.Errorf("decodeBody(invalid bool) = %v, want errInvalidBoolean", err)
	}
}

func TestDecodeBodyDynamicAlignsArrayElements(t *testing.T) {
	// A leading byte misaligns the following array of int64 (8-byte
	// elements) relative to a 4-byte array-length boundary; readDynamic's
	// generic array path must still align to the element type before
	// reading, the same as the typed path does.
	sig, buf, err := encodeBody(hostOrder, byte(9), []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	values, err := decodeBodyDynamic(sig, buf, hostOrder)
	if err != nil {
		t.Fatalf("decodeBodyDynamic: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("got %d values, want 2", len(values))
	}
	arr, ok := values[1].([]interface{})
	if !ok {
		t.Fatalf("values[1] = %#v, want []interface{}", values[1])
	}
	want := []interface{}{int64(1), int64(2), int64(3)}
	if diff := cmp.Diff(want, arr); diff != "" {
		t.Errorf("array mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBodyDynamic(t *testing.T) {
	sig, buf, err := encodeBody(hostOrder, "a", int32(1), true)
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	values, err := decodeBodyDynamic(sig, buf, hostOrder)
	if err != nil {
		t.Fatalf("decodeBodyDynamic: %v", err)
	}
	want := []interface{}{"a", int32(1), true}
	if diff := cmp.Diff(want, values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}
