package spool

import (
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/synqronlabs/wren/smtp"
)

// Record is one spooled message, stored as a MessagePack map.
type Record struct {
	ID         string
	Sender     string
	Recipients []string
	HeloName   string
	RemoteAddr string
	ReceivedAt time.Time
	Params     map[string]string
	Data       []byte
}

// NewRecord captures mail for rcpts.
func NewRecord(mail *smtp.Mail, rcpts ...smtp.Path) *Record {
	rec := &Record{
		ID:         mail.ID,
		HeloName:   mail.HeloName,
		RemoteAddr: mail.RemoteAddr,
		ReceivedAt: mail.ReceivedAt,
		Params:     mail.Envelope.Params,
		Data:       mail.Raw,
	}
	if !mail.Envelope.From.IsNull() {
		rec.Sender = mail.Envelope.From.Mailbox.String()
	}
	for _, rcpt := range rcpts {
		rec.Recipients = append(rec.Recipients, rcpt.Mailbox.String())
	}
	return rec
}

// MarshalMsg implements msgp.Marshaler.
func (r *Record) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, r.Msgsize())
	o = msgp.AppendMapHeader(o, 8)
	o = msgp.AppendString(o, "id")
	o = msgp.AppendString(o, r.ID)
	o = msgp.AppendString(o, "sender")
	o = msgp.AppendString(o, r.Sender)
	o = msgp.AppendString(o, "rcpts")
	o = msgp.AppendArrayHeader(o, uint32(len(r.Recipients)))
	for _, rcpt := range r.Recipients {
		o = msgp.AppendString(o, rcpt)
	}
	o = msgp.AppendString(o, "helo")
	o = msgp.AppendString(o, r.HeloName)
	o = msgp.AppendString(o, "remote")
	o = msgp.AppendString(o, r.RemoteAddr)
	o = msgp.AppendString(o, "received_at")
	o = msgp.AppendTime(o, r.ReceivedAt)
	o = msgp.AppendString(o, "params")
	o = msgp.AppendMapHeader(o, uint32(len(r.Params)))
	for k, v := range r.Params {
		o = msgp.AppendString(o, k)
		o = msgp.AppendString(o, v)
	}
	o = msgp.AppendString(o, "data")
	o = msgp.AppendBytes(o, r.Data)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler. Unknown fields are skipped.
func (r *Record) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var fields uint32
	fields, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}
	for range fields {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}
		switch msgp.UnsafeString(field) {
		case "id":
			r.ID, bts, err = msgp.ReadStringBytes(bts)
		case "sender":
			r.Sender, bts, err = msgp.ReadStringBytes(bts)
		case "rcpts":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return bts, msgp.WrapError(err, "rcpts")
			}
			r.Recipients = make([]string, n)
			for i := range r.Recipients {
				r.Recipients[i], bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, msgp.WrapError(err, "rcpts", i)
				}
			}
		case "helo":
			r.HeloName, bts, err = msgp.ReadStringBytes(bts)
		case "remote":
			r.RemoteAddr, bts, err = msgp.ReadStringBytes(bts)
		case "received_at":
			r.ReceivedAt, bts, err = msgp.ReadTimeBytes(bts)
		case "params":
			var n uint32
			n, bts, err = msgp.ReadMapHeaderBytes(bts)
			if err != nil {
				return bts, msgp.WrapError(err, "params")
			}
			r.Params = make(map[string]string, n)
			for range n {
				var k, v string
				if k, bts, err = msgp.ReadStringBytes(bts); err != nil {
					return bts, msgp.WrapError(err, "params")
				}
				if v, bts, err = msgp.ReadStringBytes(bts); err != nil {
					return bts, msgp.WrapError(err, "params", k)
				}
				r.Params[k] = v
			}
		case "data":
			r.Data, bts, err = msgp.ReadBytesBytes(bts, r.Data[:0])
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

// Msgsize returns an upper bound of the encoded size.
func (r *Record) Msgsize() int {
	s := msgp.MapHeaderSize +
		7 + msgp.StringPrefixSize + len(r.ID) +
		7 + msgp.StringPrefixSize + len(r.Sender) +
		6 + msgp.ArrayHeaderSize +
		5 + msgp.StringPrefixSize + len(r.HeloName) +
		7 + msgp.StringPrefixSize + len(r.RemoteAddr) +
		12 + msgp.TimeSize +
		7 + msgp.MapHeaderSize +
		5 + msgp.BytesPrefixSize + len(r.Data)
	for _, rcpt := range r.Recipients {
		s += msgp.StringPrefixSize + len(rcpt)
	}
	for k, v := range r.Params {
		s += 2*msgp.StringPrefixSize + len(k) + len(v)
	}
	return s
}
