package serializer

import (
	"encoding"
	"fmt"
)

// NewBinarySerializer creates a serializer for types that encode themselves.
// Values must implement encoding.BinaryMarshaler (Serialize) and
// encoding.BinaryUnmarshaler (Deserialize). Raw byte payloads ([]byte and
// *[]byte) are passed through unchanged.
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer by delegating to the value's
// own binary encoding
type binarySerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Name() string {
	return "binary"
}

func (b binarySerializerImpl) Serialize(v any) ([]byte, error) {
	switch msg := v.(type) {
	case encoding.BinaryMarshaler:
		return msg.MarshalBinary()
	case []byte:
		return msg, nil
	case *[]byte:
		if msg == nil {
			return nil, nil
		}
		return *msg, nil
	default:
		return nil, fmt.Errorf("binary serializer: %T does not implement encoding.BinaryMarshaler", v)
	}
}

func (b binarySerializerImpl) Deserialize(data []byte, v any) error {
	switch msg := v.(type) {
	case encoding.BinaryUnmarshaler:
		return msg.UnmarshalBinary(data)
	case *[]byte:
		*msg = append((*msg)[:0], data...)
		return nil
	default:
		return fmt.Errorf("binary serializer: %T does not implement encoding.BinaryUnmarshaler", v)
	}
}
