// internal/cardano/address.go
package cardano

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	MainnetID byte = 1
	TestnetID byte = 0

	keyHashLen = 28
)

// Address is a Cardano shelley address with a payment key-hash credential
// and an optional stake key-hash credential. Script credentials never appear
// on the buyer/seller side of an escrow datum.
type Address struct {
	NetworkID      byte
	PaymentKeyHash []byte
	StakeKeyHash   []byte // nil for enterprise addresses
}

var ErrInvalidAddress = errors.New("cardano: invalid address")

// NetworkIDFor maps the configured network name to its address network id.
func NetworkIDFor(network string) byte {
	if network == "Mainnet" {
		return MainnetID
	}
	return TestnetID
}

func hrpFor(networkID byte) string {
	if networkID == MainnetID {
		return "addr"
	}
	return "addr_test"
}

// Bech32 renders the address in its bech32 form.
func (a Address) Bech32() (string, error) {
	if len(a.PaymentKeyHash) != keyHashLen {
		return "", fmt.Errorf("%w: payment key hash must be %d bytes", ErrInvalidAddress, keyHashLen)
	}

	var header byte
	payload := make([]byte, 0, 1+2*keyHashLen)
	if a.StakeKeyHash != nil {
		if len(a.StakeKeyHash) != keyHashLen {
			return "", fmt.Errorf("%w: stake key hash must be %d bytes", ErrInvalidAddress, keyHashLen)
		}
		header = a.NetworkID // base address, key/key: type 0
		payload = append(payload, header)
		payload = append(payload, a.PaymentKeyHash...)
		payload = append(payload, a.StakeKeyHash...)
	} else {
		header = 0x60 | a.NetworkID // enterprise address, key: type 6
		payload = append(payload, header)
		payload = append(payload, a.PaymentKeyHash...)
	}

	return encodeBech32Payload(hrpFor(a.NetworkID), payload)
}

func encodeBech32Payload(hrp string, payload []byte) (string, error) {
	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("cardano: address bit conversion: %w", err)
	}
	return bech32.Encode(hrp, converted)
}

// ParseAddress decodes a bech32 shelley address. Cardano addresses exceed
// the 90-character BIP-173 limit, so decoding must not enforce it.
func ParseAddress(addr string) (Address, error) {
	hrp, data, err := bech32.DecodeNoLimit(addr)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if hrp != "addr" && hrp != "addr_test" {
		return Address{}, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidAddress, hrp)
	}

	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(payload) < 1+keyHashLen {
		return Address{}, fmt.Errorf("%w: payload too short", ErrInvalidAddress)
	}

	header := payload[0]
	networkID := header & 0x0f
	addrType := header >> 4

	out := Address{NetworkID: networkID}
	switch addrType {
	case 0: // base, key payment + key stake
		if len(payload) != 1+2*keyHashLen {
			return Address{}, fmt.Errorf("%w: base address length %d", ErrInvalidAddress, len(payload))
		}
		out.PaymentKeyHash = payload[1 : 1+keyHashLen]
		out.StakeKeyHash = payload[1+keyHashLen:]
	case 6: // enterprise, key payment
		if len(payload) != 1+keyHashLen {
			return Address{}, fmt.Errorf("%w: enterprise address length %d", ErrInvalidAddress, len(payload))
		}
		out.PaymentKeyHash = payload[1:]
	case 7: // enterprise, script payment (the escrow contract itself)
		if len(payload) != 1+keyHashLen {
			return Address{}, fmt.Errorf("%w: script address length %d", ErrInvalidAddress, len(payload))
		}
		out.PaymentKeyHash = payload[1:]
	default:
		return Address{}, fmt.Errorf("%w: unsupported address type %d", ErrInvalidAddress, addrType)
	}
	return out, nil
}

// Equal compares two addresses structurally.
func (a Address) Equal(b Address) bool {
	return a.NetworkID == b.NetworkID &&
		bytes.Equal(a.PaymentKeyHash, b.PaymentKeyHash) &&
		bytes.Equal(a.StakeKeyHash, b.StakeKeyHash)
}

// ToData encodes the address as the nested constructor term the on-chain
// script consumes: Constr 0 [payment credential, optional stake credential].
func (a Address) ToData() Data {
	payment := Constr{Index: 0, Fields: []Data{append([]byte(nil), a.PaymentKeyHash...)}}

	var stake Data
	if a.StakeKeyHash != nil {
		stake = Constr{Index: 0, Fields: []Data{
			Constr{Index: 0, Fields: []Data{
				Constr{Index: 0, Fields: []Data{append([]byte(nil), a.StakeKeyHash...)}},
			}},
		}}
	} else {
		stake = Constr{Index: 1, Fields: []Data{}}
	}

	return Constr{Index: 0, Fields: []Data{payment, stake}}
}

// AddressFromData decodes the constructor form produced by ToData. The
// network id is not part of the on-chain term and must be supplied.
func AddressFromData(d Data, networkID byte) (Address, error) {
	outer, err := AsConstr(d, 0)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(outer.Fields) != 2 {
		return Address{}, fmt.Errorf("%w: address term has %d fields", ErrInvalidAddress, len(outer.Fields))
	}

	payment, err := AsConstr(outer.Fields[0], 0)
	if err != nil || len(payment.Fields) != 1 {
		return Address{}, fmt.Errorf("%w: bad payment credential", ErrInvalidAddress)
	}
	pkh, err := AsBytes(payment.Fields[0])
	if err != nil || len(pkh) != keyHashLen {
		return Address{}, fmt.Errorf("%w: bad payment key hash", ErrInvalidAddress)
	}

	out := Address{NetworkID: networkID, PaymentKeyHash: pkh}

	stake, ok := outer.Fields[1].(Constr)
	if !ok {
		return Address{}, fmt.Errorf("%w: bad stake credential", ErrInvalidAddress)
	}
	switch stake.Index {
	case 1: // no stake part
	case 0:
		inner, err := AsConstr(stake.Fields[0], 0)
		if err != nil || len(inner.Fields) != 1 {
			return Address{}, fmt.Errorf("%w: bad stake credential", ErrInvalidAddress)
		}
		cred, err := AsConstr(inner.Fields[0], 0)
		if err != nil || len(cred.Fields) != 1 {
			return Address{}, fmt.Errorf("%w: bad stake credential", ErrInvalidAddress)
		}
		skh, err := AsBytes(cred.Fields[0])
		if err != nil || len(skh) != keyHashLen {
			return Address{}, fmt.Errorf("%w: bad stake key hash", ErrInvalidAddress)
		}
		out.StakeKeyHash = skh
	default:
		return Address{}, fmt.Errorf("%w: stake constructor %d", ErrInvalidAddress, stake.Index)
	}

	return out, nil
}
