package dbus

// Per-kind wire alignment, per the wire format's data model table. Factored
// out of the writer/reader/signature mapper so there is exactly one source
// of truth instead of each carrying its own inline constant.
const (
	alignByte      = 1
	alignBool      = 4
	alignInt16     = 2
	alignUint16    = 2
	alignInt32     = 4
	alignUint32    = 4
	alignInt64     = 8
	alignUint64    = 8
	alignDouble    = 8
	alignString    = 4
	alignObjectPath = 4
	alignSignature = 1
	alignUnixFd    = 4
	alignArray     = 4
	alignStruct    = 8
	alignDictEntry = 8
	alignVariant   = 1
)

// alignOf returns the alignment boundary for a single wire type-code byte.
// For the container codes 'a', '(' and '{' it returns the container's own
// alignment; the alignment of their elements or fields is resolved by the
// caller inspecting the element/field type.
func alignOf(code byte) int {
	switch code {
	case 'y':
		return alignByte
	case 'b':
		return alignBool
	case 'n':
		return alignInt16
	case 'q':
		return alignUint16
	case 'i':
		return alignInt32
	case 'u':
		return alignUint32
	case 'x':
		return alignInt64
	case 't':
		return alignUint64
	case 'd':
		return alignDouble
	case 's', 'o':
		return alignString
	case 'g':
		return alignSignature
	case 'h':
		return alignUnixFd
	case 'a':
		return alignArray
	case '(':
		return alignStruct
	case '{':
		return alignDictEntry
	case 'v':
		return alignVariant
	default:
		return 1
	}
}

// padLen returns how many zero bytes must be appended at offset to reach the
// next boundary divisible by align. Matches spec §4.2's padTo contract:
// (align - offset mod align) mod align.
func padLen(offset, align int) int {
	return (align - offset%align) % align
}
