package eventlog

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/sagaflow/engine/sagaerr"
)

// Codec marshals event bodies for storage. JSON is the default for
// human-inspectable logs; CBOR trades that for a denser wire format on
// high-volume sagas.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes event bodies as JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", sagaerr.ErrSerialization, err)
	}
	return nil
}

// CBORCodec encodes event bodies as CBOR, roughly halving payload size for
// numeric-heavy step outputs compared to JSON.
type CBORCodec struct{}

func (CBORCodec) Marshal(v any) ([]byte, error) { return cbor.Marshal(v) }
func (CBORCodec) Unmarshal(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", sagaerr.ErrSerialization, err)
	}
	return nil
}
