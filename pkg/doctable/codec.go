package doctable

import "encoding/json"

// Codec converts a domain object to and from its binary payload. The table
// never looks inside the payload; queries run against the flattened scalar
// fields only.
type Codec[T any] interface {
	Marshal(obj T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

// JSONCodec is the default Codec, marshalling the object as JSON.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Marshal(obj T) ([]byte, error) {
	return json.Marshal(obj)
}

func (JSONCodec[T]) Unmarshal(data []byte) (T, error) {
	var obj T
	err := json.Unmarshal(data, &obj)
	return obj, err
}
