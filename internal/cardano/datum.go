// internal/cardano/datum.go
package cardano

import (
	"encoding/hex"
	"fmt"
)

// SmartContractState is the logical escrow state encoded inside the datum as
// a bare constructor. The indexes are fixed by the on-chain validator.
type SmartContractState uint64

const (
	StateFundsLocked     SmartContractState = 0
	StateResultSubmitted SmartContractState = 1
	StateRefundRequested SmartContractState = 2
	StateDisputed        SmartContractState = 3
)

func (s SmartContractState) String() string {
	switch s {
	case StateFundsLocked:
		return "FundsLocked"
	case StateResultSubmitted:
		return "ResultSubmitted"
	case StateRefundRequested:
		return "RefundRequested"
	case StateDisputed:
		return "Disputed"
	default:
		return fmt.Sprintf("SmartContractState(%d)", uint64(s))
	}
}

// EscrowDatum is the contract datum attached to every escrow output. Vkeys
// and hashes are lowercase hex; times are epoch milliseconds; ResultHash is
// the empty string until the seller submits a result.
type EscrowDatum struct {
	BuyerVkey     string
	BuyerAddress  Address
	SellerVkey    string
	SellerAddress Address

	BlockchainIdentifier string
	InputHash            string
	ResultHash           string

	PayByTime                 int64
	ResultTime                int64
	UnlockTime                int64
	ExternalDisputeUnlockTime int64
	BuyerCooldownTime         int64
	SellerCooldownTime        int64

	State                    SmartContractState
	CollateralReturnLovelace int64
}

// ToData encodes the datum as a single constructor with a fixed field order.
// The order is part of the on-chain contract and must never change.
func (d EscrowDatum) ToData() (Data, error) {
	buyerVkey, err := hex.DecodeString(d.BuyerVkey)
	if err != nil {
		return nil, fmt.Errorf("cardano: buyer vkey is not hex: %w", err)
	}
	sellerVkey, err := hex.DecodeString(d.SellerVkey)
	if err != nil {
		return nil, fmt.Errorf("cardano: seller vkey is not hex: %w", err)
	}

	return Constr{Index: 0, Fields: []Data{
		buyerVkey,
		d.BuyerAddress.ToData(),
		sellerVkey,
		d.SellerAddress.ToData(),
		[]byte(d.BlockchainIdentifier),
		[]byte(d.InputHash),
		[]byte(d.ResultHash),
		d.PayByTime,
		d.ResultTime,
		d.UnlockTime,
		d.ExternalDisputeUnlockTime,
		d.BuyerCooldownTime,
		d.SellerCooldownTime,
		Constr{Index: uint64(d.State), Fields: []Data{}},
		d.CollateralReturnLovelace,
	}}, nil
}

// EncodeDatum renders the datum to canonical CBOR.
func EncodeDatum(d EscrowDatum) ([]byte, error) {
	data, err := d.ToData()
	if err != nil {
		return nil, err
	}
	return MarshalData(data)
}

// DecodeDatum parses canonical CBOR into an EscrowDatum. The network id is
// needed to reconstruct bech32 addresses from the credential terms.
func DecodeDatum(raw []byte, networkID byte) (EscrowDatum, error) {
	data, err := UnmarshalData(raw)
	if err != nil {
		return EscrowDatum{}, err
	}
	return DatumFromData(data, networkID)
}

func DatumFromData(data Data, networkID byte) (EscrowDatum, error) {
	c, err := AsConstr(data, 0)
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum: %w", err)
	}
	if len(c.Fields) != 15 {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum has %d fields, want 15", len(c.Fields))
	}

	var d EscrowDatum

	buyerVkey, err := AsBytes(c.Fields[0])
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum buyer vkey: %w", err)
	}
	d.BuyerVkey = hex.EncodeToString(buyerVkey)

	if d.BuyerAddress, err = AddressFromData(c.Fields[1], networkID); err != nil {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum buyer address: %w", err)
	}

	sellerVkey, err := AsBytes(c.Fields[2])
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum seller vkey: %w", err)
	}
	d.SellerVkey = hex.EncodeToString(sellerVkey)

	if d.SellerAddress, err = AddressFromData(c.Fields[3], networkID); err != nil {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum seller address: %w", err)
	}

	identifier, err := AsBytes(c.Fields[4])
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum identifier: %w", err)
	}
	d.BlockchainIdentifier = string(identifier)

	inputHash, err := AsBytes(c.Fields[5])
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum input hash: %w", err)
	}
	d.InputHash = string(inputHash)

	resultHash, err := AsBytes(c.Fields[6])
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum result hash: %w", err)
	}
	d.ResultHash = string(resultHash)

	ints := []*int64{
		&d.PayByTime, &d.ResultTime, &d.UnlockTime,
		&d.ExternalDisputeUnlockTime, &d.BuyerCooldownTime, &d.SellerCooldownTime,
	}
	for i, dst := range ints {
		v, err := AsInt(c.Fields[7+i])
		if err != nil {
			return EscrowDatum{}, fmt.Errorf("cardano: escrow datum time field %d: %w", i, err)
		}
		*dst = v
	}

	state, ok := c.Fields[13].(Constr)
	if !ok || len(state.Fields) != 0 {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum state is not a bare constructor")
	}
	if state.Index > uint64(StateDisputed) {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum state index %d out of range", state.Index)
	}
	d.State = SmartContractState(state.Index)

	if d.CollateralReturnLovelace, err = AsInt(c.Fields[14]); err != nil {
		return EscrowDatum{}, fmt.Errorf("cardano: escrow datum collateral: %w", err)
	}

	return d, nil
}
