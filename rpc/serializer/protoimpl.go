package serializer

import (
	"fmt"
	"google.golang.org/protobuf/proto"
)

// NewProtoSerializer creates a serializer for protobuf messages. It is the
// format to use when talking to peers built from .proto definitions.
func NewProtoSerializer() IRPCSerializer {
	return &protoSerializerImpl{}
}

// protoSerializerImpl implements IRPCSerializer for proto.Message values
type protoSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (p protoSerializerImpl) Name() string {
	return "proto"
}

func (p protoSerializerImpl) Serialize(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("proto serializer: %T is not a proto.Message", v)
	}
	return proto.Marshal(msg)
}

func (p protoSerializerImpl) Deserialize(b []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("proto serializer: %T is not a proto.Message", v)
	}
	return proto.Unmarshal(b, msg)
}
