package stringdbserver

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Hand-rolled protobuf wire messages. The service is small enough that the
// records are encoded directly with protowire instead of checking in
// generated code.

// KeyValue one pair in an InsertRange call.
//
//	bytes key = 1; bytes value = 2;
type KeyValue struct {
	Key   []byte
	Value []byte
}

// InsertRequest a single insert.
//
//	bytes key = 1; bytes value = 2;
type InsertRequest struct {
	Key   []byte
	Value []byte
}

// InsertResponse carries the failure text, empty on success.
//
//	string error = 1;
type InsertResponse struct {
	Error string
}

// InsertRangeRequest a batch insert.
//
//	repeated KeyValue items = 1;
type InsertRangeRequest struct {
	Items []KeyValue
}

// ScanRequest opens a streaming scan.
//
//	bool load_values = 1;
type ScanRequest struct {
	LoadValues bool
}

// ScanRecord one streamed record. Last marks the end-of-scan message, which
// carries no key.
//
//	uint64 id = 1; bytes key = 2; bytes value = 3; bool last = 4;
type ScanRecord struct {
	Id    uint64
	Key   []byte
	Value []byte
	Last  bool
}

type wireMessage interface {
	marshal(b []byte) []byte
	unmarshal(b []byte) error
}

func (m *KeyValue) marshal(b []byte) []byte {
	if len(m.Key) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Key)
	}
	if len(m.Value) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Value)
	}
	return b
}

func (m *KeyValue) unmarshal(b []byte) error {
	return eachField(b, func(num protowire.Number, v []byte) {
		switch num {
		case 1:
			m.Key = append([]byte(nil), v...)
		case 2:
			m.Value = append([]byte(nil), v...)
		}
	})
}

func (m *InsertRequest) marshal(b []byte) []byte {
	return (*KeyValue)(m).marshal(b)
}

func (m *InsertRequest) unmarshal(b []byte) error {
	return (*KeyValue)(m).unmarshal(b)
}

func (m *InsertResponse) marshal(b []byte) []byte {
	if m.Error != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Error)
	}
	return b
}

func (m *InsertResponse) unmarshal(b []byte) error {
	return eachField(b, func(num protowire.Number, v []byte) {
		if num == 1 {
			m.Error = string(v)
		}
	})
}

func (m *InsertRangeRequest) marshal(b []byte) []byte {
	for i := range m.Items {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Items[i].marshal(nil))
	}
	return b
}

func (m *InsertRangeRequest) unmarshal(b []byte) error {
	var inner error
	err := eachField(b, func(num protowire.Number, v []byte) {
		if num != 1 {
			return
		}
		var kv KeyValue
		if err := kv.unmarshal(v); err != nil {
			inner = err
			return
		}
		m.Items = append(m.Items, kv)
	})
	if err != nil {
		return err
	}
	return inner
}

func (m *ScanRequest) marshal(b []byte) []byte {
	if m.LoadValues {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func (m *ScanRequest) unmarshal(b []byte) error {
	return eachVarint(b, func(num protowire.Number, v uint64) {
		if num == 1 {
			m.LoadValues = v != 0
		}
	})
}

func (m *ScanRecord) marshal(b []byte) []byte {
	if m.Id != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Id)
	}
	if len(m.Key) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Key)
	}
	if len(m.Value) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Value)
	}
	if m.Last {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func (m *ScanRecord) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case 1:
				m.Id = v
			case 4:
				m.Last = v != 0
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case 2:
				m.Key = append([]byte(nil), v...)
			case 3:
				m.Value = append([]byte(nil), v...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// eachField walks bytes-typed fields, skipping everything else.
func eachField(b []byte, f func(num protowire.Number, v []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			f(num, v)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

// eachVarint walks varint-typed fields, skipping everything else.
func eachVarint(b []byte, f func(num protowire.Number, v uint64)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			f(num, v)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

// Codec the gRPC codec for the hand-rolled wire messages.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("stringdbserver: cannot marshal %T", v)
	}
	return m.marshal(nil), nil
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("stringdbserver: cannot unmarshal into %T", v)
	}
	return m.unmarshal(data)
}

func (Codec) Name() string {
	return "stringdb"
}
