// internal/cardano/plutus.go
package cardano

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// Data is a Plutus data term: Constr, []byte, int64, or []Data. It is the
// structured format datums and redeemers are encoded in on chain.
type Data interface{}

// Constr is a constructor application with a zero-based index.
type Constr struct {
	Index  uint64
	Fields []Data
}

var (
	ErrNotConstr = errors.New("cardano: data is not a constructor")
	ErrNotBytes  = errors.New("cardano: data is not a byte string")
	ErrNotInt    = errors.New("cardano: data is not an integer")
)

// Constructor indexes 0-6 map to CBOR tags 121-127, 7-127 to 1280+(i-7).
// Higher indexes never occur in the escrow contract.
func constrTag(index uint64) (uint64, error) {
	switch {
	case index < 7:
		return 121 + index, nil
	case index < 128:
		return 1280 + index - 7, nil
	default:
		return 0, fmt.Errorf("cardano: constructor index %d out of range", index)
	}
}

func constrIndex(tag uint64) (uint64, bool) {
	switch {
	case tag >= 121 && tag <= 127:
		return tag - 121, true
	case tag >= 1280 && tag <= 1400:
		return tag - 1280 + 7, true
	default:
		return 0, false
	}
}

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	// Canonical encoding keeps round-trips byte-exact, which the on-chain
	// script requires for datum hashes to agree.
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	encMode = mode
}

// MarshalData encodes a Data term to its canonical CBOR form.
func MarshalData(d Data) ([]byte, error) {
	v, err := toCBOR(d)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(v)
}

// UnmarshalData decodes CBOR bytes into a Data term.
func UnmarshalData(b []byte) (Data, error) {
	var raw interface{}
	if err := cbor.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("cardano: invalid plutus data: %w", err)
	}
	return fromCBOR(raw)
}

func toCBOR(d Data) (interface{}, error) {
	switch v := d.(type) {
	case Constr:
		fields := make([]interface{}, len(v.Fields))
		for i, f := range v.Fields {
			enc, err := toCBOR(f)
			if err != nil {
				return nil, err
			}
			fields[i] = enc
		}
		tag, err := constrTag(v.Index)
		if err != nil {
			return nil, err
		}
		return cbor.Tag{Number: tag, Content: fields}, nil
	case []byte:
		return v, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return v, nil
	case []Data:
		items := make([]interface{}, len(v))
		for i, f := range v {
			enc, err := toCBOR(f)
			if err != nil {
				return nil, err
			}
			items[i] = enc
		}
		return items, nil
	case nil:
		return nil, errors.New("cardano: nil plutus data")
	default:
		return nil, fmt.Errorf("cardano: unsupported plutus data type %T", d)
	}
}

func fromCBOR(raw interface{}) (Data, error) {
	switch v := raw.(type) {
	case cbor.Tag:
		index, ok := constrIndex(v.Number)
		if !ok {
			return nil, fmt.Errorf("cardano: unknown constructor tag %d", v.Number)
		}
		content, ok := v.Content.([]interface{})
		if !ok {
			return nil, fmt.Errorf("cardano: constructor %d has non-list content", index)
		}
		fields := make([]Data, len(content))
		for i, f := range content {
			dec, err := fromCBOR(f)
			if err != nil {
				return nil, err
			}
			fields[i] = dec
		}
		return Constr{Index: index, Fields: fields}, nil
	case []byte:
		return v, nil
	case uint64:
		if v > uint64(1)<<62 {
			return nil, fmt.Errorf("cardano: integer %d overflows int64", v)
		}
		return int64(v), nil
	case int64:
		return v, nil
	case big.Int:
		if !v.IsInt64() {
			return nil, fmt.Errorf("cardano: integer %s overflows int64", v.String())
		}
		return v.Int64(), nil
	case []interface{}:
		items := make([]Data, len(v))
		for i, f := range v {
			dec, err := fromCBOR(f)
			if err != nil {
				return nil, err
			}
			items[i] = dec
		}
		return items, nil
	default:
		return nil, fmt.Errorf("cardano: unsupported plutus data element %T", raw)
	}
}

// AsConstr asserts d is a constructor with the given index.
func AsConstr(d Data, index uint64) (Constr, error) {
	c, ok := d.(Constr)
	if !ok {
		return Constr{}, ErrNotConstr
	}
	if c.Index != index {
		return Constr{}, fmt.Errorf("cardano: expected constructor %d, got %d", index, c.Index)
	}
	return c, nil
}

func AsBytes(d Data) ([]byte, error) {
	b, ok := d.([]byte)
	if !ok {
		return nil, ErrNotBytes
	}
	return b, nil
}

func AsInt(d Data) (int64, error) {
	n, ok := d.(int64)
	if !ok {
		return 0, ErrNotInt
	}
	return n, nil
}
