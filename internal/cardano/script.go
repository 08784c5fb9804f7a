// internal/cardano/script.go
package cardano

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

func newBlake2b224() (hash.Hash, error) {
	return blake2b.New(28, nil)
}

// plutusV3Tag prefixes the script bytes before hashing, per the ledger's
// script hash derivation for Plutus V3.
const plutusV3Tag byte = 0x03

// ScriptHash computes the 28-byte hash of a compiled Plutus script. The same
// value serves as the minting policy id and the payment credential of the
// script address.
func ScriptHash(script []byte) ([]byte, error) {
	h, err := newBlake2b224()
	if err != nil {
		return nil, err
	}
	h.Write([]byte{plutusV3Tag})
	h.Write(script)
	return h.Sum(nil), nil
}

// ApplyParams binds compile-time parameters to a compiled script. The
// parameters are encoded as a canonical Plutus data list and appended to the
// program body; both sides of the deployment derive the applied form the
// same way, so addresses and policy ids agree.
func ApplyParams(compiled []byte, params ...Data) ([]byte, error) {
	if len(params) == 0 {
		return compiled, nil
	}
	encoded, err := MarshalData(paramsList(params))
	if err != nil {
		return nil, fmt.Errorf("cardano: encoding script parameters: %w", err)
	}
	out := make([]byte, 0, len(compiled)+len(encoded))
	out = append(out, compiled...)
	out = append(out, encoded...)
	return out, nil
}

func paramsList(params []Data) Data {
	list := make([]Data, len(params))
	copy(list, params)
	return list
}

// DeriveScriptAddress resolves the script address and policy id for a
// compiled script with its parameters applied.
func DeriveScriptAddress(compiledHex string, networkID byte, params ...Data) (string, string, error) {
	compiled, err := hex.DecodeString(compiledHex)
	if err != nil {
		return "", "", fmt.Errorf("cardano: compiled script is not hex: %w", err)
	}

	applied, err := ApplyParams(compiled, params...)
	if err != nil {
		return "", "", err
	}

	hash, err := ScriptHash(applied)
	if err != nil {
		return "", "", err
	}

	payload := make([]byte, 0, 29)
	payload = append(payload, 0x70|networkID) // enterprise script address
	payload = append(payload, hash...)

	addr, err := encodeBech32Payload(hrpFor(networkID), payload)
	if err != nil {
		return "", "", err
	}

	return addr, hex.EncodeToString(hash), nil
}

// DeriveAssetName computes the registry NFT asset name from the first input
// of the minting transaction: blake2b-256 over the input's tx hash bytes and
// its big-endian output index, truncated to 32 bytes. The derivation is
// deterministic, so re-submitting a confirmed registration cannot mint a
// second asset.
func DeriveAssetName(txHash string, outputIndex uint32) (string, error) {
	hashBytes, err := hex.DecodeString(txHash)
	if err != nil {
		return "", fmt.Errorf("cardano: tx hash is not hex: %w", err)
	}

	var indexBytes [4]byte
	binary.BigEndian.PutUint32(indexBytes[:], outputIndex)

	sum := blake2b.Sum256(append(hashBytes, indexBytes[:]...))
	return hex.EncodeToString(sum[:32]), nil
}
