package amqp

import "github.com/pkg/errors"

// EncodeMethod and DecodeMethod implement the method codec described in
// spec.md §4.B: each method variant defines a symmetric bytes<->record
// mapping derived from a field list [(name, amqp-type)]. amqp-macros/
// src/lib.rs (original_source/) generated this pairing at compile time
// from a `#[amqp_method]` annotation; Go has no stable build-time macro
// facility with the same reach, so each pair below is hand-written but
// kept mechanically parallel — every Encode method walks its fields in
// declaration order and every Decode method reads them back in the same
// order, exactly the shape the macro would have produced.

// packBits packs up to 8 flag bits into one octet, bit 0 (LSB) first,
// the order AMQP 0-9-1 uses for method-argument bit fields.
func packBits(bits ...bool) byte {
	var b byte
	for i, set := range bits {
		if set {
			b |= 1 << uint(i)
		}
	}
	return b
}

func unpackBit(b byte, i int) bool {
	return b&(1<<uint(i)) != 0
}

// EncodeMethod serialises a method record's arguments (not its class/
// method-id header) onto the wire.
func EncodeMethod(m Method) ([]byte, error) {
	w := NewWriter()
	var err error
	switch v := m.(type) {
	case ConnectionStart:
		w.WriteByte(v.VersionMajor)
		w.WriteByte(v.VersionMinor)
		err = w.WriteTable(v.ServerProperties)
		if err == nil {
			err = w.WriteLongStr([]byte(v.Mechanisms))
		}
		if err == nil {
			err = w.WriteLongStr([]byte(v.Locales))
		}
	case ConnectionStartOk:
		err = w.WriteTable(v.ClientProperties)
		if err == nil {
			err = w.WriteShortStr(v.Mechanism)
		}
		if err == nil {
			err = w.WriteLongStr([]byte(v.Response))
		}
		if err == nil {
			err = w.WriteShortStr(v.Locale)
		}
	case ConnectionTune:
		w.WriteUshort(v.ChannelMax)
		w.WriteUint(v.FrameMax)
		w.WriteUshort(v.Heartbeat)
	case ConnectionTuneOk:
		w.WriteUshort(v.ChannelMax)
		w.WriteUint(v.FrameMax)
		w.WriteUshort(v.Heartbeat)
	case ConnectionOpen:
		err = w.WriteShortStr(v.VHost)
		if err == nil {
			err = w.WriteShortStr("") // reserved1: capabilities
		}
		if err == nil {
			w.WriteByte(0) // reserved2: insist
		}
	case ConnectionOpenOk:
		err = w.WriteShortStr("") // reserved1
	case ConnectionClose:
		w.WriteUshort(v.ReplyCode)
		err = w.WriteShortStr(v.ReplyText)
		if err == nil {
			w.WriteUshort(v.ClassId)
			w.WriteUshort(v.MethodId)
		}
	case ConnectionCloseOk:
		// no fields
	case ChannelOpen:
		err = w.WriteShortStr("") // reserved1
	case ChannelOpenOk:
		err = w.WriteLongStr(nil) // reserved1
	case ChannelClose:
		w.WriteUshort(v.ReplyCode)
		err = w.WriteShortStr(v.ReplyText)
		if err == nil {
			w.WriteUshort(v.ClassId)
			w.WriteUshort(v.MethodId)
		}
	case ChannelCloseOk:
		// no fields
	case ExchangeDeclare:
		w.WriteUshort(0) // reserved1
		err = w.WriteShortStr(v.Exchange)
		if err == nil {
			err = w.WriteShortStr(v.Type)
		}
		if err == nil {
			w.WriteByte(packBits(v.Passive, v.Durable, v.AutoDel, v.Internal, v.NoWait))
			err = w.WriteTable(v.Arguments)
		}
	case ExchangeDeclareOk:
		// no fields
	case QueueDeclare:
		w.WriteUshort(0) // reserved1
		err = w.WriteShortStr(v.Queue)
		if err == nil {
			w.WriteByte(packBits(v.Passive, v.Durable, v.Exclusive, v.AutoDel, v.NoWait))
			err = w.WriteTable(v.Arguments)
		}
	case QueueDeclareOk:
		err = w.WriteShortStr(v.Queue)
		if err == nil {
			w.WriteUint(v.MessageCount)
			w.WriteUint(v.ConsumerCount)
		}
	case QueueBind:
		w.WriteUshort(0) // reserved1
		err = w.WriteShortStr(v.Queue)
		if err == nil {
			err = w.WriteShortStr(v.Exchange)
		}
		if err == nil {
			err = w.WriteShortStr(v.RoutingKey)
		}
		if err == nil {
			w.WriteByte(packBits(v.NoWait))
			err = w.WriteTable(v.Arguments)
		}
	case QueueBindOk:
		// no fields
	case QueueUnbind:
		w.WriteUshort(0) // reserved1
		err = w.WriteShortStr(v.Queue)
		if err == nil {
			err = w.WriteShortStr(v.Exchange)
		}
		if err == nil {
			err = w.WriteShortStr(v.RoutingKey)
		}
		if err == nil {
			err = w.WriteTable(v.Arguments)
		}
	case QueueUnbindOk:
		// no fields
	case BasicQos:
		w.WriteUint(v.PrefetchSize)
		w.WriteUshort(v.PrefetchCount)
		w.WriteByte(packBits(v.Global))
	case BasicQosOk:
		// no fields
	case BasicConsume:
		w.WriteUshort(0) // reserved1
		err = w.WriteShortStr(v.Queue)
		if err == nil {
			err = w.WriteShortStr(v.ConsumerTag)
		}
		if err == nil {
			w.WriteByte(packBits(v.NoLocal, v.NoAck, v.Exclusive, v.NoWait))
			err = w.WriteTable(v.Arguments)
		}
	case BasicConsumeOk:
		err = w.WriteShortStr(v.ConsumerTag)
	case BasicCancel:
		err = w.WriteShortStr(v.ConsumerTag)
		if err == nil {
			w.WriteByte(packBits(v.NoWait))
		}
	case BasicCancelOk:
		err = w.WriteShortStr(v.ConsumerTag)
	case BasicPublish:
		w.WriteUshort(0) // reserved1
		err = w.WriteShortStr(v.Exchange)
		if err == nil {
			err = w.WriteShortStr(v.RoutingKey)
		}
		if err == nil {
			w.WriteByte(packBits(v.Mandatory, v.Immediate))
		}
	case BasicReturn:
		w.WriteUshort(v.ReplyCode)
		err = w.WriteShortStr(v.ReplyText)
		if err == nil {
			err = w.WriteShortStr(v.Exchange)
		}
		if err == nil {
			err = w.WriteShortStr(v.RoutingKey)
		}
	case BasicDeliver:
		err = w.WriteShortStr(v.ConsumerTag)
		if err == nil {
			w.WriteUlong(v.DeliveryTag)
			w.WriteByte(packBits(v.Redelivered))
			err = w.WriteShortStr(v.Exchange)
		}
		if err == nil {
			err = w.WriteShortStr(v.RoutingKey)
		}
	case BasicGet:
		w.WriteUshort(0) // reserved1
		err = w.WriteShortStr(v.Queue)
		if err == nil {
			w.WriteByte(packBits(v.NoAck))
		}
	case BasicGetOk:
		w.WriteUlong(v.DeliveryTag)
		w.WriteByte(packBits(v.Redelivered))
		err = w.WriteShortStr(v.Exchange)
		if err == nil {
			err = w.WriteShortStr(v.RoutingKey)
		}
		if err == nil {
			w.WriteUint(v.MessageCount)
		}
	case BasicGetEmpty:
		err = w.WriteShortStr("") // reserved1
	case BasicAck:
		w.WriteUlong(v.DeliveryTag)
		w.WriteByte(packBits(v.Multiple))
	case BasicReject:
		w.WriteUlong(v.DeliveryTag)
		w.WriteByte(packBits(v.Requeue))
	case BasicNack:
		w.WriteUlong(v.DeliveryTag)
		w.WriteByte(packBits(v.Multiple, v.Requeue))
	case Unknown:
		w.buf.Write(v.Payload)
	default:
		return nil, errors.Errorf("amqp: cannot encode method of type %T", m)
	}
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeMethod parses a method's argument bytes given its class/method id,
// total over the known method set: an id this client does not recognise
// decodes to Unknown rather than failing, per spec.md §4.B.
func DecodeMethod(class, method uint16, payload []byte) (Method, error) {
	r := NewReader(payload)
	cm := classMethod{class, method}
	switch cm {
	case classMethod{ClassConnection, MethodConnectionStart}:
		major, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		minor, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		props, err := r.ReadTable()
		if err != nil {
			return nil, err
		}
		mechs, err := r.ReadLongStr()
		if err != nil {
			return nil, err
		}
		locales, err := r.ReadLongStr()
		if err != nil {
			return nil, err
		}
		return ConnectionStart{major, minor, props, string(mechs), string(locales)}, nil

	case classMethod{ClassConnection, MethodConnectionStartOk}:
		props, err := r.ReadTable()
		if err != nil {
			return nil, err
		}
		mech, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		resp, err := r.ReadLongStr()
		if err != nil {
			return nil, err
		}
		locale, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		return ConnectionStartOk{props, mech, string(resp), locale}, nil

	case classMethod{ClassConnection, MethodConnectionTune}:
		chMax, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		frMax, err := r.ReadUint()
		if err != nil {
			return nil, err
		}
		hb, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		return ConnectionTune{chMax, frMax, hb}, nil

	case classMethod{ClassConnection, MethodConnectionTuneOk}:
		chMax, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		frMax, err := r.ReadUint()
		if err != nil {
			return nil, err
		}
		hb, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		return ConnectionTuneOk{chMax, frMax, hb}, nil

	case classMethod{ClassConnection, MethodConnectionOpen}:
		vhost, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		if _, err := r.ReadShortStr(); err != nil { // reserved1
			return nil, err
		}
		if _, err := r.ReadByte(); err != nil { // reserved2
			return nil, err
		}
		return ConnectionOpen{vhost}, nil

	case classMethod{ClassConnection, MethodConnectionOpenOk}:
		if _, err := r.ReadShortStr(); err != nil {
			return nil, err
		}
		return ConnectionOpenOk{}, nil

	case classMethod{ClassConnection, MethodConnectionClose}:
		code, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		text, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		classId, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		methodId, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		return ConnectionClose{code, text, classId, methodId}, nil

	case classMethod{ClassConnection, MethodConnectionCloseOk}:
		return ConnectionCloseOk{}, nil

	case classMethod{ClassChannel, MethodChannelOpen}:
		if _, err := r.ReadShortStr(); err != nil {
			return nil, err
		}
		return ChannelOpen{}, nil

	case classMethod{ClassChannel, MethodChannelOpenOk}:
		if _, err := r.ReadLongStr(); err != nil {
			return nil, err
		}
		return ChannelOpenOk{}, nil

	case classMethod{ClassChannel, MethodChannelClose}:
		code, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		text, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		classId, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		methodId, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		return ChannelClose{code, text, classId, methodId}, nil

	case classMethod{ClassChannel, MethodChannelCloseOk}:
		return ChannelCloseOk{}, nil

	case classMethod{ClassExchange, MethodExchangeDeclare}:
		if _, err := r.ReadUshort(); err != nil { // reserved1
			return nil, err
		}
		name, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		typ, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		args, err := r.ReadTable()
		if err != nil {
			return nil, err
		}
		return ExchangeDeclare{
			Exchange: name, Type: typ,
			Passive: unpackBit(flags, 0), Durable: unpackBit(flags, 1),
			AutoDel: unpackBit(flags, 2), Internal: unpackBit(flags, 3),
			NoWait: unpackBit(flags, 4), Arguments: args,
		}, nil

	case classMethod{ClassExchange, MethodExchangeDeclareOk}:
		return ExchangeDeclareOk{}, nil

	case classMethod{ClassQueue, MethodQueueDeclare}:
		if _, err := r.ReadUshort(); err != nil {
			return nil, err
		}
		name, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		args, err := r.ReadTable()
		if err != nil {
			return nil, err
		}
		return QueueDeclare{
			Queue: name, Passive: unpackBit(flags, 0), Durable: unpackBit(flags, 1),
			Exclusive: unpackBit(flags, 2), AutoDel: unpackBit(flags, 3),
			NoWait: unpackBit(flags, 4), Arguments: args,
		}, nil

	case classMethod{ClassQueue, MethodQueueDeclareOk}:
		name, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		msgCount, err := r.ReadUint()
		if err != nil {
			return nil, err
		}
		consCount, err := r.ReadUint()
		if err != nil {
			return nil, err
		}
		return QueueDeclareOk{name, msgCount, consCount}, nil

	case classMethod{ClassQueue, MethodQueueBind}:
		if _, err := r.ReadUshort(); err != nil {
			return nil, err
		}
		queue, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		exchange, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		rk, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		args, err := r.ReadTable()
		if err != nil {
			return nil, err
		}
		return QueueBind{queue, exchange, rk, unpackBit(flags, 0), args}, nil

	case classMethod{ClassQueue, MethodQueueBindOk}:
		return QueueBindOk{}, nil

	case classMethod{ClassQueue, MethodQueueUnbind}:
		if _, err := r.ReadUshort(); err != nil {
			return nil, err
		}
		queue, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		exchange, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		rk, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		args, err := r.ReadTable()
		if err != nil {
			return nil, err
		}
		return QueueUnbind{queue, exchange, rk, args}, nil

	case classMethod{ClassQueue, MethodQueueUnbindOk}:
		return QueueUnbindOk{}, nil

	case classMethod{ClassBasic, MethodBasicQos}:
		size, err := r.ReadUint()
		if err != nil {
			return nil, err
		}
		count, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return BasicQos{size, count, unpackBit(flags, 0)}, nil

	case classMethod{ClassBasic, MethodBasicQosOk}:
		return BasicQosOk{}, nil

	case classMethod{ClassBasic, MethodBasicConsume}:
		if _, err := r.ReadUshort(); err != nil {
			return nil, err
		}
		queue, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		tag, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		args, err := r.ReadTable()
		if err != nil {
			return nil, err
		}
		return BasicConsume{
			Queue: queue, ConsumerTag: tag,
			NoLocal: unpackBit(flags, 0), NoAck: unpackBit(flags, 1),
			Exclusive: unpackBit(flags, 2), NoWait: unpackBit(flags, 3),
			Arguments: args,
		}, nil

	case classMethod{ClassBasic, MethodBasicConsumeOk}:
		tag, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		return BasicConsumeOk{tag}, nil

	case classMethod{ClassBasic, MethodBasicCancel}:
		tag, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return BasicCancel{tag, unpackBit(flags, 0)}, nil

	case classMethod{ClassBasic, MethodBasicCancelOk}:
		tag, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		return BasicCancelOk{tag}, nil

	case classMethod{ClassBasic, MethodBasicPublish}:
		if _, err := r.ReadUshort(); err != nil {
			return nil, err
		}
		exchange, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		rk, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return BasicPublish{exchange, rk, unpackBit(flags, 0), unpackBit(flags, 1)}, nil

	case classMethod{ClassBasic, MethodBasicReturn}:
		code, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		text, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		exchange, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		rk, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		return BasicReturn{code, text, exchange, rk}, nil

	case classMethod{ClassBasic, MethodBasicDeliver}:
		tag, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		dtag, err := r.ReadUlong()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		exchange, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		rk, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		return BasicDeliver{tag, dtag, unpackBit(flags, 0), exchange, rk}, nil

	case classMethod{ClassBasic, MethodBasicGet}:
		if _, err := r.ReadUshort(); err != nil {
			return nil, err
		}
		queue, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return BasicGet{queue, unpackBit(flags, 0)}, nil

	case classMethod{ClassBasic, MethodBasicGetOk}:
		dtag, err := r.ReadUlong()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		exchange, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		rk, err := r.ReadShortStr()
		if err != nil {
			return nil, err
		}
		count, err := r.ReadUint()
		if err != nil {
			return nil, err
		}
		return BasicGetOk{dtag, unpackBit(flags, 0), exchange, rk, count}, nil

	case classMethod{ClassBasic, MethodBasicGetEmpty}:
		if _, err := r.ReadShortStr(); err != nil {
			return nil, err
		}
		return BasicGetEmpty{}, nil

	case classMethod{ClassBasic, MethodBasicAck}:
		dtag, err := r.ReadUlong()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return BasicAck{dtag, unpackBit(flags, 0)}, nil

	case classMethod{ClassBasic, MethodBasicReject}:
		dtag, err := r.ReadUlong()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return BasicReject{dtag, unpackBit(flags, 0)}, nil

	case classMethod{ClassBasic, MethodBasicNack}:
		dtag, err := r.ReadUlong()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return BasicNack{dtag, unpackBit(flags, 0), unpackBit(flags, 1)}, nil

	default:
		raw := make([]byte, len(payload))
		copy(raw, payload)
		return Unknown{class, method, raw}, nil
	}
}
