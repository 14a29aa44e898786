package amqp

// BasicProperties is the content-header "properties" for the basic class,
// the only content-bearing class this client speaks. AMQP 0-9-1 encodes
// properties as a 16-bit presence bitmask (bit 15 down to bit 2 used here,
// bits 0-1 reserved for a second flag word this client never needs)
// followed by only the fields whose bit is set.
//
// spec.md's examples show properties as a free-form map, but the wire
// format is a fixed, ordered field list: a generic map cannot round-trip
// byte-for-byte (key order, absent vs zero-valued fields), so this client
// models it as a struct with explicit presence, the same shape real AMQP
// client libraries use for this class.
type BasicProperties struct {
	ContentType     *string
	ContentEncoding *string
	Headers         PropTable
	DeliveryMode    *byte
	Priority        *byte
	CorrelationId   *string
	ReplyTo         *string
	Expiration      *string
	MessageId       *string
	Timestamp       *uint64
	Type            *string
	UserId          *string
	AppId           *string
	ClusterId       *string
}

// property presence bits, MSB first as they appear on the wire.
const (
	flagContentType     = 1 << 15
	flagContentEncoding = 1 << 14
	flagHeaders         = 1 << 13
	flagDeliveryMode    = 1 << 12
	flagPriority        = 1 << 11
	flagCorrelationId   = 1 << 10
	flagReplyTo         = 1 << 9
	flagExpiration      = 1 << 8
	flagMessageId       = 1 << 7
	flagTimestamp       = 1 << 6
	flagType            = 1 << 5
	flagUserId          = 1 << 4
	flagAppId           = 1 << 3
	flagClusterId       = 1 << 2
)

// Encode writes the property flags word followed by each present field, in
// the fixed order the AMQP 0-9-1 basic class defines.
func (p BasicProperties) Encode(w *Writer) error {
	var flags uint16
	if p.ContentType != nil {
		flags |= flagContentType
	}
	if p.ContentEncoding != nil {
		flags |= flagContentEncoding
	}
	if p.Headers != nil {
		flags |= flagHeaders
	}
	if p.DeliveryMode != nil {
		flags |= flagDeliveryMode
	}
	if p.Priority != nil {
		flags |= flagPriority
	}
	if p.CorrelationId != nil {
		flags |= flagCorrelationId
	}
	if p.ReplyTo != nil {
		flags |= flagReplyTo
	}
	if p.Expiration != nil {
		flags |= flagExpiration
	}
	if p.MessageId != nil {
		flags |= flagMessageId
	}
	if p.Timestamp != nil {
		flags |= flagTimestamp
	}
	if p.Type != nil {
		flags |= flagType
	}
	if p.UserId != nil {
		flags |= flagUserId
	}
	if p.AppId != nil {
		flags |= flagAppId
	}
	if p.ClusterId != nil {
		flags |= flagClusterId
	}
	w.WriteUshort(flags)

	if p.ContentType != nil {
		if err := w.WriteShortStr(*p.ContentType); err != nil {
			return err
		}
	}
	if p.ContentEncoding != nil {
		if err := w.WriteShortStr(*p.ContentEncoding); err != nil {
			return err
		}
	}
	if p.Headers != nil {
		if err := w.WriteTable(p.Headers); err != nil {
			return err
		}
	}
	if p.DeliveryMode != nil {
		w.WriteByte(*p.DeliveryMode)
	}
	if p.Priority != nil {
		w.WriteByte(*p.Priority)
	}
	if p.CorrelationId != nil {
		if err := w.WriteShortStr(*p.CorrelationId); err != nil {
			return err
		}
	}
	if p.ReplyTo != nil {
		if err := w.WriteShortStr(*p.ReplyTo); err != nil {
			return err
		}
	}
	if p.Expiration != nil {
		if err := w.WriteShortStr(*p.Expiration); err != nil {
			return err
		}
	}
	if p.MessageId != nil {
		if err := w.WriteShortStr(*p.MessageId); err != nil {
			return err
		}
	}
	if p.Timestamp != nil {
		w.WriteUlong(*p.Timestamp)
	}
	if p.Type != nil {
		if err := w.WriteShortStr(*p.Type); err != nil {
			return err
		}
	}
	if p.UserId != nil {
		if err := w.WriteShortStr(*p.UserId); err != nil {
			return err
		}
	}
	if p.AppId != nil {
		if err := w.WriteShortStr(*p.AppId); err != nil {
			return err
		}
	}
	if p.ClusterId != nil {
		if err := w.WriteShortStr(*p.ClusterId); err != nil {
			return err
		}
	}
	return nil
}

// DecodeBasicProperties reads the flags word and every field it marks
// present, in the same fixed order Encode writes them.
func DecodeBasicProperties(r *Reader) (BasicProperties, error) {
	var p BasicProperties
	flags, err := r.ReadUshort()
	if err != nil {
		return p, err
	}

	readStr := func() (*string, error) {
		s, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		return &s, nil
	}

	if flags&flagContentType != 0 {
		if p.ContentType, err = readStr(); err != nil {
			return p, err
		}
	}
	if flags&flagContentEncoding != 0 {
		if p.ContentEncoding, err = readStr(); err != nil {
			return p, err
		}
	}
	if flags&flagHeaders != 0 {
		if p.Headers, err = r.ReadTable(); err != nil {
			return p, err
		}
	}
	if flags&flagDeliveryMode != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return p, err
		}
		p.DeliveryMode = &b
	}
	if flags&flagPriority != 0 {
		b, err := r.ReadByte()
		if err != nil {
			return p, err
		}
		p.Priority = &b
	}
	if flags&flagCorrelationId != 0 {
		if p.CorrelationId, err = readStr(); err != nil {
			return p, err
		}
	}
	if flags&flagReplyTo != 0 {
		if p.ReplyTo, err = readStr(); err != nil {
			return p, err
		}
	}
	if flags&flagExpiration != 0 {
		if p.Expiration, err = readStr(); err != nil {
			return p, err
		}
	}
	if flags&flagMessageId != 0 {
		if p.MessageId, err = readStr(); err != nil {
			return p, err
		}
	}
	if flags&flagTimestamp != 0 {
		ts, err := r.ReadUlong()
		if err != nil {
			return p, err
		}
		p.Timestamp = &ts
	}
	if flags&flagType != 0 {
		if p.Type, err = readStr(); err != nil {
			return p, err
		}
	}
	if flags&flagUserId != 0 {
		if p.UserId, err = readStr(); err != nil {
			return p, err
		}
	}
	if flags&flagAppId != 0 {
		if p.AppId, err = readStr(); err != nil {
			return p, err
		}
	}
	if flags&flagClusterId != 0 {
		if p.ClusterId, err = readStr(); err != nil {
			return p, err
		}
	}
	return p, nil
}
