// internal/cardano/redeemer.go
package cardano

import (
	"fmt"
)

// RedeemerKind selects which transition the validator evaluates when an
// escrow output is spent. The values are the on-chain constructor indexes.
type RedeemerKind uint64

const (
	RedeemerWithdraw           RedeemerKind = 0
	RedeemerRequestRefund      RedeemerKind = 1
	RedeemerCancelRefund       RedeemerKind = 2
	RedeemerWithdrawRefund     RedeemerKind = 3
	RedeemerWithdrawDisputed   RedeemerKind = 4
	RedeemerSubmitResult       RedeemerKind = 5
	RedeemerAllowRefund        RedeemerKind = 6
	redeemerKindSentinel       RedeemerKind = 7
)

func (r RedeemerKind) String() string {
	switch r {
	case RedeemerWithdraw:
		return "Withdraw"
	case RedeemerRequestRefund:
		return "RequestRefund"
	case RedeemerCancelRefund:
		return "CancelRefundRequest"
	case RedeemerWithdrawRefund:
		return "WithdrawRefund"
	case RedeemerWithdrawDisputed:
		return "WithdrawDisputed"
	case RedeemerSubmitResult:
		return "SubmitResult"
	case RedeemerAllowRefund:
		return "AllowRefund"
	default:
		return fmt.Sprintf("RedeemerKind(%d)", uint64(r))
	}
}

// Valid reports whether the kind is one of the seven contract variants.
func (r RedeemerKind) Valid() bool {
	return r < redeemerKindSentinel
}

// ToData encodes the redeemer as a bare constructor.
func (r RedeemerKind) ToData() Data {
	return Constr{Index: uint64(r), Fields: []Data{}}
}

// EncodeRedeemer renders the redeemer to canonical CBOR.
func EncodeRedeemer(r RedeemerKind) ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cardano: unknown redeemer kind %d", uint64(r))
	}
	return MarshalData(r.ToData())
}

// DecodeRedeemer parses a redeemer term back into its kind.
func DecodeRedeemer(raw []byte) (RedeemerKind, error) {
	data, err := UnmarshalData(raw)
	if err != nil {
		return 0, err
	}
	return RedeemerFromData(data)
}

func RedeemerFromData(data Data) (RedeemerKind, error) {
	c, ok := data.(Constr)
	if !ok {
		return 0, fmt.Errorf("cardano: redeemer is not a constructor")
	}
	if len(c.Fields) != 0 {
		return 0, fmt.Errorf("cardano: redeemer constructor %d carries fields", c.Index)
	}
	kind := RedeemerKind(c.Index)
	if !kind.Valid() {
		return 0, fmt.Errorf("cardano: unknown redeemer index %d", c.Index)
	}
	return kind, nil
}
