package docdb

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// Codec transforms a table payload on its way to and from storage.
// Codecs must round-trip exactly; they are invisible to every component
// above the storage driver. The codec name is recorded in each table
// file's header, so files stay self-describing across codec changes.
type Codec interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// CodecByName returns a built-in codec by its stable name.
func CodecByName(name string) (Codec, bool) {
	switch name {
	case "raw", "":
		return RawCodec{}, true
	case "s2":
		return S2Codec{}, true
	default:
		return nil, false
	}
}

// RawCodec passes payloads through unchanged.
type RawCodec struct{}

func (RawCodec) Name() string                       { return "raw" }
func (RawCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (RawCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// S2Codec compresses payloads with s2.
type S2Codec struct{}

func (S2Codec) Name() string { return "s2" }

func (S2Codec) Encode(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (S2Codec) Decode(data []byte) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("s2: %w", err)
	}
	return out, nil
}
