package serializer

// IRPCSerializer converts request and response values to payload bytes and
// back. The RPC runtime never looks into payloads, client and server only
// need to agree on the serializer.
type IRPCSerializer interface {
	// Name returns the name of the format (e.g. "json")
	Name() string
	// Serialize encodes v and returns the payload bytes
	Serialize(v any) ([]byte, error)
	// Deserialize decodes b into v, which must be a pointer
	Deserialize(b []byte, v any) error
}
