package serializer

import "fmt"

// factories maps format names to constructors
var factories = map[string]func() IRPCSerializer{
	"json":   NewJSONSerializer,
	"gob":    NewGOBSerializer,
	"binary": NewBinarySerializer,
	"proto":  NewProtoSerializer,
}

// ByName returns the serializer registered under name
func ByName(name string) (IRPCSerializer, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("invalid serializer %s (expected one of json, gob, binary, proto)", name)
	}
	return factory(), nil
}
