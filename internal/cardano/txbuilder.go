// internal/cardano/txbuilder.go
package cardano

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// Redeemer purposes as used in the witness set.
const (
	RedeemerTagSpend uint64 = 0
	RedeemerTagMint  uint64 = 1
)

type TxInput struct {
	TxHash string
	Index  uint32
}

type TxOutput struct {
	Address string
	Value   Value
	Datum   Data // inline datum, nil for plain outputs
}

type ExUnits struct {
	Mem   uint64
	Steps uint64
}

type RedeemerEntry struct {
	Tag   uint64
	Index uint32
	Data  Data
	Units ExUnits
}

// TxBuilder assembles an escrow transaction body. It covers exactly the
// shapes the dispatchers produce: spend one script input and/or mint under
// one policy, pay outputs with optional inline datums, bounded validity.
type TxBuilder struct {
	inputs          []TxInput
	outputs         []TxOutput
	collateral      []TxInput
	requiredSigners [][]byte
	mint            map[string]map[string]int64
	fee             int64
	validityStart   uint64
	validityEnd     uint64
	script          []byte
	redeemers       []RedeemerEntry
	metadata        map[uint64]interface{}
}

// BuiltTx is a serialized body plus everything needed to assemble the final
// signed transaction.
type BuiltTx struct {
	ID       string
	Body     []byte
	BodyHash []byte

	builder *TxBuilder
}

func NewTxBuilder() *TxBuilder {
	return &TxBuilder{mint: make(map[string]map[string]int64)}
}

func (b *TxBuilder) AddInput(in TxInput) *TxBuilder {
	b.inputs = append(b.inputs, in)
	return b
}

func (b *TxBuilder) AddOutput(out TxOutput) *TxBuilder {
	b.outputs = append(b.outputs, out)
	return b
}

func (b *TxBuilder) AddCollateral(in TxInput) *TxBuilder {
	b.collateral = append(b.collateral, in)
	return b
}

func (b *TxBuilder) AddRequiredSigner(keyHash []byte) *TxBuilder {
	b.requiredSigners = append(b.requiredSigners, keyHash)
	return b
}

// AddMint records a mint (positive) or burn (negative) quantity.
func (b *TxBuilder) AddMint(policyID, assetNameHex string, quantity int64) *TxBuilder {
	if b.mint[policyID] == nil {
		b.mint[policyID] = make(map[string]int64)
	}
	b.mint[policyID][assetNameHex] += quantity
	return b
}

func (b *TxBuilder) SetFee(fee int64) *TxBuilder {
	b.fee = fee
	return b
}

func (b *TxBuilder) SetValidity(start, end uint64) *TxBuilder {
	b.validityStart = start
	b.validityEnd = end
	return b
}

func (b *TxBuilder) SetScript(script []byte) *TxBuilder {
	b.script = script
	return b
}

func (b *TxBuilder) AddRedeemer(r RedeemerEntry) *TxBuilder {
	b.redeemers = append(b.redeemers, r)
	return b
}

// Redeemers exposes the entries in insertion order so evaluated execution
// units can be matched back by position.
func (b *TxBuilder) Redeemers() []RedeemerEntry {
	return b.redeemers
}

// SetRedeemerUnits bakes evaluated execution units back into the builder
// before the final build.
func (b *TxBuilder) SetRedeemerUnits(i int, units ExUnits) error {
	if i < 0 || i >= len(b.redeemers) {
		return fmt.Errorf("cardano: redeemer index %d out of range", i)
	}
	b.redeemers[i].Units = units
	return nil
}

func (b *TxBuilder) SetMetadata(md map[uint64]interface{}) *TxBuilder {
	b.metadata = md
	return b
}

// Build serializes the transaction body and computes its id.
func (b *TxBuilder) Build() (*BuiltTx, error) {
	if len(b.inputs) == 0 {
		return nil, errors.New("cardano: transaction has no inputs")
	}

	body := make(map[int]interface{})

	body[0] = encodeInputs(b.inputs)

	outputs := make([]interface{}, len(b.outputs))
	for i, out := range b.outputs {
		enc, err := encodeOutput(out)
		if err != nil {
			return nil, err
		}
		outputs[i] = enc
	}
	body[1] = outputs

	body[2] = b.fee
	if b.validityEnd > 0 {
		body[3] = b.validityEnd
	}
	if b.validityStart > 0 {
		body[8] = b.validityStart
	}

	if len(b.mint) > 0 {
		mint, err := encodeMint(b.mint)
		if err != nil {
			return nil, err
		}
		body[9] = mint
	}

	if len(b.redeemers) > 0 {
		hash, err := b.scriptDataHash()
		if err != nil {
			return nil, err
		}
		body[11] = hash
	}

	if len(b.collateral) > 0 {
		body[13] = encodeInputs(b.collateral)
	}
	if len(b.requiredSigners) > 0 {
		signers := make([]interface{}, len(b.requiredSigners))
		for i, s := range b.requiredSigners {
			signers[i] = s
		}
		body[14] = signers
	}

	if b.metadata != nil {
		aux, err := encMode.Marshal(b.metadata)
		if err != nil {
			return nil, fmt.Errorf("cardano: encoding metadata: %w", err)
		}
		auxHash := blake2b.Sum256(aux)
		body[7] = auxHash[:]
	}

	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("cardano: encoding tx body: %w", err)
	}

	bodyHash := blake2b.Sum256(raw)
	return &BuiltTx{
		ID:       hex.EncodeToString(bodyHash[:]),
		Body:     raw,
		BodyHash: bodyHash[:],
		builder:  b,
	}, nil
}

// Assemble attaches witnesses and produces the full signed transaction.
func (t *BuiltTx) Assemble(witnesses []VKeyWitness) ([]byte, error) {
	b := t.builder

	witnessSet := make(map[int]interface{})
	if len(witnesses) > 0 {
		vkeys := make([]interface{}, len(witnesses))
		for i, w := range witnesses {
			vkeys[i] = []interface{}{w.VKey, w.Signature}
		}
		witnessSet[0] = vkeys
	}
	if len(b.redeemers) > 0 {
		witnessSet[5] = encodeRedeemers(b.redeemers)
	}
	if len(b.script) > 0 {
		witnessSet[7] = []interface{}{b.script} // PlutusV3
	}

	var aux interface{}
	if b.metadata != nil {
		aux = b.metadata
	}

	tx := []interface{}{
		cbor.RawMessage(t.Body),
		witnessSet,
		true,
		aux,
	}

	raw, err := encMode.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("cardano: encoding signed tx: %w", err)
	}
	return raw, nil
}

func (b *TxBuilder) scriptDataHash() ([]byte, error) {
	enc, err := encMode.Marshal(encodeRedeemers(b.redeemers))
	if err != nil {
		return nil, fmt.Errorf("cardano: encoding redeemers: %w", err)
	}
	sum := blake2b.Sum256(enc)
	return sum[:], nil
}

func encodeInputs(inputs []TxInput) []interface{} {
	sorted := make([]TxInput, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TxHash != sorted[j].TxHash {
			return sorted[i].TxHash < sorted[j].TxHash
		}
		return sorted[i].Index < sorted[j].Index
	})

	out := make([]interface{}, len(sorted))
	for i, in := range sorted {
		hash, _ := hex.DecodeString(in.TxHash)
		out[i] = []interface{}{hash, in.Index}
	}
	return out
}

func encodeOutput(out TxOutput) (interface{}, error) {
	addrBytes, err := rawAddressBytes(out.Address)
	if err != nil {
		return nil, err
	}

	enc := map[int]interface{}{
		0: addrBytes,
		1: encodeValue(out.Value),
	}

	if out.Datum != nil {
		datumBytes, err := MarshalData(out.Datum)
		if err != nil {
			return nil, fmt.Errorf("cardano: encoding inline datum: %w", err)
		}
		// Inline datum option per the post-alonzo output format.
		enc[2] = []interface{}{1, cbor.Tag{Number: 24, Content: datumBytes}}
	}

	return enc, nil
}

func encodeValue(v Value) interface{} {
	lovelace := v.Lovelace()

	assets := make(map[string]map[string]int64)
	for unit, amount := range v {
		if unit == LovelaceUnit {
			continue
		}
		if len(unit) < 56 {
			continue
		}
		policy, asset := unit[:56], unit[56:]
		if assets[policy] == nil {
			assets[policy] = make(map[string]int64)
		}
		assets[policy][asset] = amount
	}

	if len(assets) == 0 {
		return lovelace
	}

	multi := make(map[interface{}]interface{}, len(assets))
	for policy, names := range assets {
		policyBytes, _ := hex.DecodeString(policy)
		inner := make(map[interface{}]interface{}, len(names))
		for name, amount := range names {
			nameBytes, _ := hex.DecodeString(name)
			inner[string(nameBytes)] = amount
		}
		multi[string(policyBytes)] = inner
	}
	return []interface{}{lovelace, multi}
}

func encodeMint(mint map[string]map[string]int64) (interface{}, error) {
	out := make(map[interface{}]interface{}, len(mint))
	for policy, names := range mint {
		policyBytes, err := hex.DecodeString(policy)
		if err != nil {
			return nil, fmt.Errorf("cardano: policy id is not hex: %w", err)
		}
		inner := make(map[interface{}]interface{}, len(names))
		for name, qty := range names {
			nameBytes, err := hex.DecodeString(name)
			if err != nil {
				return nil, fmt.Errorf("cardano: asset name is not hex: %w", err)
			}
			inner[string(nameBytes)] = qty
		}
		out[string(policyBytes)] = inner
	}
	return out, nil
}

func encodeRedeemers(redeemers []RedeemerEntry) []interface{} {
	out := make([]interface{}, len(redeemers))
	for i, r := range redeemers {
		data, _ := toCBOR(r.Data)
		out[i] = []interface{}{r.Tag, r.Index, data, []interface{}{r.Units.Mem, r.Units.Steps}}
	}
	return out
}

func rawAddressBytes(addr string) ([]byte, error) {
	_, data, err := bech32.DecodeNoLimit(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return payload, nil
}

// ExtractRedeemers pulls the redeemer terms out of a raw signed transaction.
// The sync loop uses it to identify which transition a spend performs.
func ExtractRedeemers(rawTx []byte) ([]RedeemerEntry, error) {
	var tx []cbor.RawMessage
	if err := cbor.Unmarshal(rawTx, &tx); err != nil {
		return nil, fmt.Errorf("cardano: invalid transaction envelope: %w", err)
	}
	if len(tx) < 2 {
		return nil, errors.New("cardano: transaction envelope too short")
	}

	var witnessSet map[int]cbor.RawMessage
	if err := cbor.Unmarshal(tx[1], &witnessSet); err != nil {
		return nil, fmt.Errorf("cardano: invalid witness set: %w", err)
	}

	rawRedeemers, ok := witnessSet[5]
	if !ok {
		return nil, nil
	}

	var entries []cbor.RawMessage
	if err := cbor.Unmarshal(rawRedeemers, &entries); err != nil {
		return nil, fmt.Errorf("cardano: invalid redeemer list: %w", err)
	}

	out := make([]RedeemerEntry, 0, len(entries))
	for _, raw := range entries {
		var fields []cbor.RawMessage
		if err := cbor.Unmarshal(raw, &fields); err != nil || len(fields) != 4 {
			return nil, errors.New("cardano: malformed redeemer entry")
		}

		var entry RedeemerEntry
		if err := cbor.Unmarshal(fields[0], &entry.Tag); err != nil {
			return nil, errors.New("cardano: malformed redeemer tag")
		}
		if err := cbor.Unmarshal(fields[1], &entry.Index); err != nil {
			return nil, errors.New("cardano: malformed redeemer index")
		}

		var rawData interface{}
		if err := cbor.Unmarshal(fields[2], &rawData); err != nil {
			return nil, errors.New("cardano: malformed redeemer data")
		}
		data, err := fromCBOR(rawData)
		if err != nil {
			return nil, err
		}
		entry.Data = data

		var units []uint64
		if err := cbor.Unmarshal(fields[3], &units); err == nil && len(units) == 2 {
			entry.Units = ExUnits{Mem: units[0], Steps: units[1]}
		}

		out = append(out, entry)
	}
	return out, nil
}

// Slot reference points per network. A slot is one second on both networks.
var slotReferences = map[byte]struct {
	knownTime int64
	knownSlot uint64
}{
	MainnetID: {knownTime: 1596059091, knownSlot: 4492800},
	TestnetID: {knownTime: 1655769600, knownSlot: 86400},
}

// SlotForTime converts wall-clock time to the network's slot number.
func SlotForTime(networkID byte, t time.Time) uint64 {
	ref := slotReferences[networkID]
	delta := t.Unix() - ref.knownTime
	if delta < 0 {
		return ref.knownSlot
	}
	return ref.knownSlot + uint64(delta)
}
