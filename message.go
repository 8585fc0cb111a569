package dbus

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageType is the wire message-type byte (spec §3).
type MessageType byte

const (
	TypeInvalid MessageType = iota
	TypeMethodCall
	TypeMethodReturn
	TypeError
	TypeSignal
)

func (t MessageType) String() string {
	switch t {
	case TypeMethodCall:
		return "method_call"
	case TypeMethodReturn:
		return "method_return"
	case TypeError:
		return "error"
	case TypeSignal:
		return "signal"
	default:
		return "invalid"
	}
}

// MessageFlag is the wire flags bitfield (spec §3).
type MessageFlag byte

const (
	FlagNoReplyExpected MessageFlag = 1 << iota
	FlagNoAutoStart
	FlagAllowInteractiveAuthorization
)

// Header field codes (spec §3).
const (
	fieldPath        = 1
	fieldInterface   = 2
	fieldMember      = 3
	fieldErrorName   = 4
	fieldReplySerial = 5
	fieldDestination = 6
	fieldSender      = 7
	fieldSignature   = 8
	fieldUnixFds     = 9
)

const protocolVersion = 1

// Message is the in-memory form of a D-Bus message: header fields plus a
// raw body. Grounded on z3ntu-go-dbus's message.go Message type, split from
// a single Params []interface{} into a pre-encoded (Signature, Body) pair
// so that Message itself doesn't need to know host Go types — those are
// resolved by the Body codec at the Connection/Proxy boundary.
type Message struct {
	Type  MessageType
	Flags MessageFlag

	Serial      uint32
	ReplySerial uint32

	Path        ObjectPath
	Interface   string
	Member      string
	ErrorName   string
	Destination string
	Sender      string
	UnixFds     uint32

	Signature Signature
	Body      []byte

	order binary.ByteOrder
}

func (m *Message) byteOrder() binary.ByteOrder {
	if m.order != nil {
		return m.order
	}
	return hostOrder
}

// validate enforces spec §3's per-type invariants before packing.
func (m *Message) validate() error {
	switch m.Type {
	case TypeMethodCall:
		if m.Path == "" || m.Member == "" {
			return fmt.Errorf("dbus: method call requires Path and Member")
		}
	case TypeSignal:
		if m.Path == "" || m.Interface == "" || m.Member == "" {
			return fmt.Errorf("dbus: signal requires Path, Interface and Member")
		}
	case TypeMethodReturn:
		if m.ReplySerial == 0 {
			return fmt.Errorf("dbus: method return requires ReplySerial")
		}
	case TypeError:
		if m.ReplySerial == 0 || m.ErrorName == "" {
			return fmt.Errorf("dbus: error reply requires ReplySerial and ErrorName")
		}
	}
	if m.Serial == 0 {
		return fmt.Errorf("dbus: message serial must be nonzero")
	}
	if len(m.Signature) > 255 {
		return errSignatureTooLong
	}
	return nil
}

type headerEntry struct {
	code  byte
	sig   Signature
	value interface{}
}

func (m *Message) headerEntries() []headerEntry {
	var entries []headerEntry
	if m.Path != "" {
		entries = append(entries, headerEntry{fieldPath, "o", m.Path})
	}
	if m.Interface != "" {
		entries = append(entries, headerEntry{fieldInterface, "s", m.Interface})
	}
	if m.Member != "" {
		entries = append(entries, headerEntry{fieldMember, "s", m.Member})
	}
	if m.ErrorName != "" {
		entries = append(entries, headerEntry{fieldErrorName, "s", m.ErrorName})
	}
	if m.ReplySerial != 0 {
		entries = append(entries, headerEntry{fieldReplySerial, "u", m.ReplySerial})
	}
	if m.Destination != "" {
		entries = append(entries, headerEntry{fieldDestination, "s", m.Destination})
	}
	if m.Sender != "" {
		entries = append(entries, headerEntry{fieldSender, "s", m.Sender})
	}
	if m.Signature != "" {
		entries = append(entries, headerEntry{fieldSignature, "g", m.Signature})
	}
	if m.UnixFds != 0 {
		entries = append(entries, headerEntry{fieldUnixFds, "u", m.UnixFds})
	}
	return entries
}

// pack implements the Message codec's pack operation (spec §4.5).
func (m *Message) pack() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	order := m.byteOrder()

	w := newWriter(order, 0)
	w.writeByte(flagForOrder(order))
	w.writeByte(byte(m.Type))
	w.writeByte(byte(m.Flags))
	w.writeByte(protocolVersion)
	w.writeUint32(uint32(len(m.Body)))
	w.writeUint32(m.Serial)

	w.padTo(alignArray)
	lenPos := w.offset()
	w.writeUint32(0)
	w.padTo(alignStruct)
	start := w.offset()
	for _, e := range m.headerEntries() {
		w.padTo(alignStruct)
		w.writeByte(e.code)
		if err := w.writeSignatureString(e.sig); err != nil {
			return nil, err
		}
		w.padTo(alignOf(e.sig[0]))
		if err := writeHeaderValue(w, e.sig, e.value); err != nil {
			return nil, err
		}
	}
	fieldsLen := w.offset() - start
	w.writeU32At(lenPos, uint32(fieldsLen))

	w.padTo(8)
	w.writeBytes(m.Body)
	return w.buf, nil
}

func writeHeaderValue(w *writer, sig Signature, value interface{}) error {
	switch sig {
	case "o":
		w.writeString(string(value.(ObjectPath)))
	case "s":
		w.writeString(value.(string))
	case "u":
		w.writeUint32(value.(uint32))
	case "g":
		return w.writeSignatureString(value.(Signature))
	default:
		return fmt.Errorf("dbus: unsupported header field signature %q", sig)
	}
	return nil
}

// readMessage implements the Message codec's unpack operation (spec §4.5),
// reading directly from the connection socket: the fixed 16-byte prefix,
// the header-fields bytes, the pad to 8, then the body — never leaving a
// partial message unconsumed (spec §4.7's frame-level invariant).
func readMessage(r io.Reader) (*Message, error) {
	var prefix [16]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, errUnexpectedEof
	}

	order, err := orderForFlag(prefix[0])
	if err != nil {
		return nil, errBadEndianFlag
	}

	m := &Message{
		Type:  MessageType(prefix[1]),
		Flags: MessageFlag(prefix[2]),
		order: order,
	}
	bodyLength := order.Uint32(prefix[4:8])
	m.Serial = order.Uint32(prefix[8:12])
	fieldsLen := order.Uint32(prefix[12:16])

	fieldsBuf := make([]byte, fieldsLen)
	if _, err := io.ReadFull(r, fieldsBuf); err != nil {
		return nil, errUnexpectedEof
	}

	if pad := padLen(16+int(fieldsLen), 8); pad > 0 {
		var padBuf [8]byte
		if _, err := io.ReadFull(r, padBuf[:pad]); err != nil {
			return nil, errUnexpectedEof
		}
	}

	body := make([]byte, bodyLength)
	if bodyLength > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, errUnexpectedEof
		}
	}
	m.Body = body

	if err := parseHeaderFields(m, fieldsBuf, order); err != nil {
		return nil, err
	}
	return m, nil
}

// parseHeaderFields walks the (yv) struct array at absolute offset 16
// (right after the fixed prefix, which is already 8-byte aligned).
func parseHeaderFields(m *Message, buf []byte, order binary.ByteOrder) error {
	r := newReader("", buf, order, 16)
	for r.dataOff < len(buf) {
		r.alignTo(alignStruct)
		if r.dataOff >= len(buf) {
			break
		}
		code, err := r.readByte()
		if err != nil {
			return err
		}
		sig, err := r.readSignatureString()
		if err != nil {
			return err
		}
		if len(sig) == 0 {
			return errSignatureMismatch
		}
		r.alignTo(alignOf(sig[0]))

		switch code {
		case fieldPath:
			s, err := r.readString()
			if err != nil {
				return err
			}
			m.Path = ObjectPath(s)
		case fieldInterface:
			s, err := r.readString()
			if err != nil {
				return err
			}
			m.Interface = s
		case fieldMember:
			s, err := r.readString()
			if err != nil {
				return err
			}
			m.Member = s
		case fieldErrorName:
			s, err := r.readString()
			if err != nil {
				return err
			}
			m.ErrorName = s
		case fieldReplySerial:
			v, err := r.readUint32()
			if err != nil {
				return err
			}
			m.ReplySerial = v
		case fieldDestination:
			s, err := r.readString()
			if err != nil {
				return err
			}
			m.Destination = s
		case fieldSender:
			s, err := r.readString()
			if err != nil {
				return err
			}
			m.Sender = s
		case fieldSignature:
			s, err := r.readSignatureString()
			if err != nil {
				return err
			}
			m.Signature = s
		case fieldUnixFds:
			v, err := r.readUint32()
			if err != nil {
				return err
			}
			m.UnixFds = v
		default:
			// Decode-and-skip: parse the value per its declared signature
			// and discard it, rather than aborting with UnknownHeaderField.
			r.sig, r.sigOff = sig, 0
			if _, err := r.readDynamic(); err != nil {
				return fmt.Errorf("%w: code %d (%v)", errUnknownHeaderField, code, err)
			}
		}
	}
	return nil
}
