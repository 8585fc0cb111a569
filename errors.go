package dbus

import "errors"

// Error taxonomy per spec §7, grouped by the subsystem that raises them.
// Kept as plain sentinel values (teacher style: names.go and transport.go
// both use package-level errors.New sentinels) rather than a single error
// code enum, since each kind is detected at a different call site and
// callers typically test with errors.Is.

// Transport errors.
var (
	errEnvVarNotFound      = errors.New("dbus: bus address environment variable not set")
	errInvalidAddressFormat = errors.New("dbus: invalid bus address format")
	errHandshakeFail       = errors.New("dbus: SASL handshake failed")
	errUnexpectedEof       = errors.New("dbus: unexpected EOF reading from bus socket")
	errBadEndianFlag       = errors.New("dbus: unrecognised endianness byte in message header")
)

// Framing errors.
var (
	errUnknownHeaderField   = errors.New("dbus: unknown header field code")
	errMissingNullTerminator = errors.New("dbus: missing NUL terminator")
	errSignatureTooLong     = errors.New("dbus: signature exceeds 255 bytes")
	errArrayTooLarge        = errors.New("dbus: array payload exceeds 2^26 bytes")
)

// Codec errors.
var (
	errSignatureMismatch      = errors.New("dbus: signature mismatch")
	errSignatureEnd           = errors.New("dbus: signature ended unexpectedly")
	errEndOfBody              = errors.New("dbus: unexpected end of message body")
	errUnsupportedType        = errors.New("dbus: unsupported type")
	errNoMatchingUnionField   = errors.New("dbus: no variant field matches the encoded signature")
	errUnsupportedDictBacking = errors.New("dbus: map key type cannot back a dict-entry array")
	errI8CannotBeSerialized   = errors.New("dbus: int8 has no D-Bus equivalent, use byte")
	errF32CannotBeSerialized  = errors.New("dbus: float32 has no D-Bus equivalent, use float64")
	errUnsupportedIntWidth    = errors.New("dbus: unsupported integer width")
	errInvalidBoolean         = errors.New("dbus: boolean value on wire was neither 0 nor 1")
)

// Runtime errors.
var (
	errSignalNotBound = errors.New("dbus: signal field triggered before being bound to an interface and path")
	errInvalidHandle  = errors.New("dbus: invalid registered-object handle")
)
