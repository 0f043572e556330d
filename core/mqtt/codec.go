package mqtt

// Codec serializes event payloads. Implementations must tolerate unknown
// fields so that producers can add fields without breaking consumers.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
