package serializer

// IRPCSerializer is the interface for all wire value serializers
type IRPCSerializer interface {
	// Serialize serializes a Value into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(v Value) ([]byte, error)
	// Deserialize deserializes a byte array into a Value
	// The byte array must contain exactly one encoded value
	// It returns an error if the data is malformed
	Deserialize(b []byte) (Value, error)
}
