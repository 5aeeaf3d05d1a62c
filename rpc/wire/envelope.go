package wire

import (
	"errors"
	"fmt"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedEnvelope is returned when a frame body can not be decoded
var ErrMalformedEnvelope = errors.New("wire: malformed envelope")

// Field numbers of the request envelope
const (
	reqFieldCallID      protowire.Number = 1
	reqFieldServiceName protowire.Number = 2
	reqFieldMethodIndex protowire.Number = 3
	reqFieldPayload     protowire.Number = 4
)

// Field numbers of the response envelope
const (
	respFieldCallID  protowire.Number = 1
	respFieldPayload protowire.Number = 2
	respFieldError   protowire.Number = 3
)

// RequestEnvelope is the body of a REQUEST frame. It is encoded in protobuf
// wire format so that peers using generated protobuf code can read it.
type RequestEnvelope struct {
	CallID      uint32
	ServiceName string
	MethodIndex uint32
	Payload     []byte
}

// ResponseEnvelope is the body of a RESPONSE frame. Error is only set by
// servers that report failures instead of dropping the request.
type ResponseEnvelope struct {
	CallID  uint32
	Payload []byte
	Error   string
}

// --------------------------------------------------------------------------
// Request Envelope
// --------------------------------------------------------------------------

// Marshal appends the encoded envelope to dst
func (e *RequestEnvelope) Marshal(dst []byte) []byte {
	if e.CallID != 0 {
		dst = protowire.AppendTag(dst, reqFieldCallID, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(e.CallID))
	}
	if e.ServiceName != "" {
		dst = protowire.AppendTag(dst, reqFieldServiceName, protowire.BytesType)
		dst = protowire.AppendString(dst, e.ServiceName)
	}
	if e.MethodIndex != 0 {
		dst = protowire.AppendTag(dst, reqFieldMethodIndex, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(e.MethodIndex))
	}
	if len(e.Payload) > 0 {
		dst = protowire.AppendTag(dst, reqFieldPayload, protowire.BytesType)
		dst = protowire.AppendBytes(dst, e.Payload)
	}
	return dst
}

// Unmarshal decodes b into the envelope. Unknown fields are skipped.
func (e *RequestEnvelope) Unmarshal(b []byte) error {
	*e = RequestEnvelope{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == reqFieldCallID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.CallID = uint32(v)
			return n
		case num == reqFieldServiceName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.ServiceName = v
			return n
		case num == reqFieldMethodIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.MethodIndex = uint32(v)
			return n
		case num == reqFieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			e.Payload = v
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

// --------------------------------------------------------------------------
// Response Envelope
// --------------------------------------------------------------------------

// Marshal appends the encoded envelope to dst
func (e *ResponseEnvelope) Marshal(dst []byte) []byte {
	if e.CallID != 0 {
		dst = protowire.AppendTag(dst, respFieldCallID, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(e.CallID))
	}
	if len(e.Payload) > 0 {
		dst = protowire.AppendTag(dst, respFieldPayload, protowire.BytesType)
		dst = protowire.AppendBytes(dst, e.Payload)
	}
	if e.Error != "" {
		dst = protowire.AppendTag(dst, respFieldError, protowire.BytesType)
		dst = protowire.AppendString(dst, e.Error)
	}
	return dst
}

// Unmarshal decodes b into the envelope. Unknown fields are skipped.
func (e *ResponseEnvelope) Unmarshal(b []byte) error {
	*e = ResponseEnvelope{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == respFieldCallID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.CallID = uint32(v)
			return n
		case num == respFieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			e.Payload = v
			return n
		case num == respFieldError && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.Error = v
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// consumeFields walks all fields of an encoded message and calls fn with the
// bytes following each tag. fn returns the number of bytes it consumed or a
// negative protowire error code.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if err := protowire.ParseError(n); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		b = b[n:]

		n = fn(num, typ, b)
		if err := protowire.ParseError(n); err != nil {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedEnvelope, num, err)
		}
		b = b[n:]
	}
	return nil
}
