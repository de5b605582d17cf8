package serialization

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
)

const (

	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Decoder reads one record. *json.Decoder and *gob.Decoder satisfy it.
type Decoder interface {
	Decode(v any) error
}

// Encoder writes one record. *json.Encoder and *gob.Encoder satisfy it.
type Encoder interface {
	Encode(v any) error
}

// Codec turns values into bytes and back using one encoder family.
type Codec struct {
	Type       string
	NewEncoder func(io.Writer) Encoder
	NewDecoder func(io.Reader) Decoder
}

// New returns the Codec registered for typ.
func New(typ string) (*Codec, error) {
	switch typ {
	case JSONType:
		return &Codec{
			Type: JSONType,
			NewEncoder: func(w io.Writer) Encoder {
				// item names are stored verbatim
				enc := json.NewEncoder(w)
				enc.SetEscapeHTML(false)
				return enc
			},
			NewDecoder: func(r io.Reader) Decoder { return json.NewDecoder(r) },
		}, nil
	case GobType:
		return &Codec{
			Type:       GobType,
			NewEncoder: func(w io.Writer) Encoder { return gob.NewEncoder(w) },
			NewDecoder: func(r io.Reader) Decoder { return gob.NewDecoder(r) },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported serialization type: %s", typ)
	}
}

// Marshal encodes v.
func (c *Codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("%s encode: %w", c.Type, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v.
func (c *Codec) Unmarshal(data []byte, v any) error {
	if err := c.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("%s decode: %w", c.Type, err)
	}
	return nil
}
