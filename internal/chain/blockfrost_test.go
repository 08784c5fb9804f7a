// internal/chain/blockfrost_test.go
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.Handler) *BlockfrostAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBlockfrostAdapter(BlockfrostConfig{
		BaseURL:       srv.URL,
		ProjectID:     "test-project",
		RatePerSecond: 1000,
	})
}

func TestListTxsAtPagination(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-project", r.Header.Get("project_id"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))

		switch r.URL.Query().Get("page") {
		case "1":
			json.NewEncoder(w).Encode([]AddressTx{
				{TxHash: "aa", BlockTime: 300},
				{TxHash: "bb", BlockTime: 200},
			})
		default:
			json.NewEncoder(w).Encode([]AddressTx{})
		}
	}))

	page1, err := adapter.ListTxsAt(context.Background(), "addr_test1xyz", 1)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "aa", page1[0].TxHash)

	page2, err := adapter.ListTxsAt(context.Background(), "addr_test1xyz", 2)
	require.NoError(t, err)
	assert.Empty(t, page2)
}

func TestListTxsAtUnknownAddressIsEmpty(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	txs, err := adapter.ListTxsAt(context.Background(), "addr_test1fresh", 1)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestListUTxOsAtUnknownAddressIsEmpty(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	utxos, err := adapter.ListUTxOsAt(context.Background(), "addr_test1fresh")
	require.NoError(t, err)
	assert.Empty(t, utxos)
}

func TestGetTxAssemblesInfo(t *testing.T) {
	txHash := strings.Repeat("ab", 32)
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/txs/" + txHash:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"hash": txHash, "block": "blockhash", "block_height": 95, "block_time": 1700000000,
			})
		case "/txs/" + txHash + "/utxos":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"inputs": []map[string]interface{}{
					{"address": "addr_test1in", "tx_hash": "cc", "output_index": 0,
						"amount": []map[string]string{{"unit": "lovelace", "quantity": "7000000"}}},
				},
				"outputs": []map[string]interface{}{
					{"address": "addr_test1out", "output_index": 0,
						"amount": []map[string]string{{"unit": "lovelace", "quantity": "5000000"}}},
				},
			})
		case "/txs/" + txHash + "/cbor":
			json.NewEncoder(w).Encode(map[string]string{"cbor": "84a0a0f5f6"})
		case "/blocks/latest":
			json.NewEncoder(w).Encode(map[string]int64{"height": 100})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	info, err := adapter.GetTx(context.Background(), txHash)
	require.NoError(t, err)

	assert.Equal(t, txHash, info.TxHash)
	assert.Equal(t, int64(6), info.Confirmations)
	require.Len(t, info.Inputs, 1)
	assert.Equal(t, int64(7000000), info.Inputs[0].Amounts[0].Quantity)
	require.Len(t, info.Outputs, 1)
	// Outputs come back stamped with the transaction's own hash.
	assert.Equal(t, txHash, info.Outputs[0].TxHash)
	assert.Equal(t, []byte{0x84, 0xa0, 0xa0, 0xf5, 0xf6}, info.RawBody)
}

func TestGetTxNotFound(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := adapter.GetTx(context.Background(), strings.Repeat("aa", 32))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetryOnServerError(t *testing.T) {
	var calls int
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]AddressTx{{TxHash: "aa", BlockTime: 1}})
	}))

	txs, err := adapter.ListTxsAt(context.Background(), "addr_test1xyz", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, txs, 1)
}

func TestSubmitTxRejected(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tx/submit", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"BadInputsUTxO"}`)
	}))

	_, err := adapter.SubmitTx(context.Background(), []byte{0x84})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestSubmitTxReturnsHash(t *testing.T) {
	txHash := strings.Repeat("cd", 32)
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/cbor", r.Header.Get("Content-Type"))
		json.NewEncoder(w).Encode(txHash)
	}))

	hash, err := adapter.SubmitTx(context.Background(), []byte{0x84})
	require.NoError(t, err)
	assert.Equal(t, txHash, hash)
}

func TestEvaluateTxParsesUnits(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/utils/txs/evaluate", r.URL.Path)
		fmt.Fprint(w, `{"result":{"EvaluationResult":{"spend:0":{"memory":120000,"steps":45000000}}}}`)
	}))

	units, err := adapter.EvaluateTx(context.Background(), []byte{0x84, 0xa0})
	require.NoError(t, err)
	require.Contains(t, units, "spend:0")
	assert.Equal(t, uint64(120000), units["spend:0"].Mem)
	assert.Equal(t, uint64(45000000), units["spend:0"].Steps)
}
