package amqp

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Writer encodes AMQP 0-9-1 primitives onto a growable byte buffer, in
// network byte order, the way packetd-packetd/protocol/pamqp/decoder.go
// reads them back with encoding/binary.BigEndian.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) WriteByte(v byte) {
	w.buf.WriteByte(v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) WriteShort(v int16) {
	w.WriteUshort(uint16(v))
}

func (w *Writer) WriteUshort(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteInt(v int32) {
	w.WriteUint(uint32(v))
}

func (w *Writer) WriteUint(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteLong(v int64) {
	w.WriteUlong(uint64(v))
}

func (w *Writer) WriteUlong(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteFloat(v float32) {
	w.WriteUint(math.Float32bits(v))
}

func (w *Writer) WriteDouble(v float64) {
	w.WriteUlong(math.Float64bits(v))
}

// WriteShortStr writes a length-prefixed string whose length must fit in
// one byte; the AMQP wire format caps short strings at 255 bytes.
func (w *Writer) WriteShortStr(s string) error {
	if len(s) > math.MaxUint8 {
		return errors.Errorf("amqp: short string too long (%d bytes)", len(s))
	}
	w.buf.WriteByte(byte(len(s)))
	w.buf.WriteString(s)
	return nil
}

// WriteLongStr writes a 32-bit-length-prefixed byte string.
func (w *Writer) WriteLongStr(s []byte) error {
	if uint64(len(s)) > math.MaxUint32 {
		return errors.Errorf("amqp: long string too long (%d bytes)", len(s))
	}
	w.WriteUint(uint32(len(s)))
	w.buf.Write(s)
	return nil
}

// WriteTable writes a 32-bit-length-prefixed sequence of
// (short_str, tag-byte, value) triples.
func (w *Writer) WriteTable(t PropTable) error {
	inner := NewWriter()
	for key, val := range t {
		if err := inner.WriteShortStr(key); err != nil {
			return err
		}
		if err := inner.writeField(val); err != nil {
			return err
		}
	}
	return w.WriteLongStr(inner.Bytes())
}

func (w *Writer) writeField(v any) error {
	switch val := v.(type) {
	case bool:
		w.WriteByte(tagBool)
		w.WriteBool(val)
	case int32:
		w.WriteByte(tagInt)
		w.WriteInt(val)
	case int64:
		w.WriteByte(tagLong)
		w.WriteLong(val)
	case float64:
		w.WriteByte(tagDouble)
		w.WriteDouble(val)
	case string:
		w.WriteByte(tagLongStr)
		if err := w.WriteLongStr([]byte(val)); err != nil {
			return err
		}
	case PropTable:
		w.WriteByte(tagTable)
		if err := w.WriteTable(val); err != nil {
			return err
		}
	case nil:
		w.WriteByte(tagVoid)
	default:
		return errors.Errorf("amqp: unsupported field-table value type %T", v)
	}
	return nil
}

// Reader decodes AMQP 0-9-1 primitives from a positioned byte cursor.
type Reader struct {
	b   []byte
	pos int
}

func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

func (r *Reader) Remaining() int {
	return len(r.b) - r.pos
}

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return errors.Wrapf(ErrProtocolViolation, "amqp: need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *Reader) ReadShort() (int16, error) {
	v, err := r.ReadUshort()
	return int16(v), err
}

func (r *Reader) ReadUshort() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.b[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadInt() (int32, error) {
	v, err := r.ReadUint()
	return int32(v), err
}

func (r *Reader) ReadUint() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.b[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadLong() (int64, error) {
	v, err := r.ReadUlong()
	return int64(v), err
}

func (r *Reader) ReadUlong() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.b[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadFloat() (float32, error) {
	v, err := r.ReadUint()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) ReadDouble() (float64, error) {
	v, err := r.ReadUlong()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *Reader) ReadShortStr() (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.b[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *Reader) ReadLongStr() ([]byte, error) {
	n, err := r.ReadUint()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	s := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	out := make([]byte, len(s))
	copy(out, s)
	return out, nil
}

func (r *Reader) ReadTable() (PropTable, error) {
	raw, err := r.ReadLongStr()
	if err != nil {
		return nil, err
	}
	inner := NewReader(raw)
	t := make(PropTable)
	for inner.Remaining() > 0 {
		key, err := inner.ReadShortStr()
		if err != nil {
			return nil, err
		}
		val, err := inner.readField()
		if err != nil {
			return nil, err
		}
		t[key] = val
	}
	return t, nil
}

func (r *Reader) readField() (any, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagBool:
		return r.ReadBool()
	case tagInt:
		return r.ReadInt()
	case tagLong:
		return r.ReadLong()
	case tagDouble:
		return r.ReadDouble()
	case tagLongStr:
		b, err := r.ReadLongStr()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case tagTable:
		return r.ReadTable()
	case tagVoid:
		return nil, nil
	default:
		return nil, errors.Wrapf(ErrProtocolViolation, "amqp: unknown field-table tag 0x%02x", tag)
	}
}

// field-table value tags. A subset of the full AMQP type table, sufficient
// for the primitives this client's methods and headers actually carry;
// spec.md §1 treats the exhaustive primitive byte layout as a given.
const (
	tagBool    = 't'
	tagInt     = 'I'
	tagLong    = 'l'
	tagDouble  = 'd'
	tagLongStr = 'S'
	tagTable   = 'F'
	tagVoid    = 'V'
)
