// internal/chain/blockfrost.go
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	retryAttempts     = 5
	retryInitialDelay = 500 * time.Millisecond
	retryMaxDelay     = 15 * time.Second

	latestBlockTTL = 10 * time.Second
)

// BlockfrostAdapter talks to a Blockfrost-family indexer over HTTPS JSON.
type BlockfrostAdapter struct {
	baseURL   string
	projectID string
	client    *http.Client
	limiter   *rate.Limiter
	log       *logrus.Entry

	mu               sync.Mutex
	latestHeight     int64
	latestHeightTime time.Time
}

type BlockfrostConfig struct {
	BaseURL        string
	ProjectID      string
	RequestTimeout time.Duration
	RatePerSecond  int
}

func NewBlockfrostAdapter(cfg BlockfrostConfig) *BlockfrostAdapter {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	perSec := cfg.RatePerSecond
	if perSec == 0 {
		perSec = 10
	}

	return &BlockfrostAdapter{
		baseURL:   cfg.BaseURL,
		projectID: cfg.ProjectID,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(perSec), perSec),
		log:       logrus.WithField("component", "blockfrost"),
	}
}

func (a *BlockfrostAdapter) ListTxsAt(ctx context.Context, address string, page int) ([]AddressTx, error) {
	var out []AddressTx
	path := fmt.Sprintf("/addresses/%s/transactions?order=desc&page=%d", address, page)
	if err := a.getJSON(ctx, path, &out); err != nil {
		if err == ErrNotFound {
			// An address with no history yet is an empty page, not a failure.
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (a *BlockfrostAdapter) ListUTxOsAt(ctx context.Context, address string) ([]UTxO, error) {
	var out []UTxO
	if err := a.getJSON(ctx, "/addresses/"+address+"/utxos", &out); err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

type blockfrostTx struct {
	Hash        string `json:"hash"`
	Block       string `json:"block"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

type blockfrostUTXOs struct {
	Inputs  []UTxO `json:"inputs"`
	Outputs []UTxO `json:"outputs"`
}

type blockfrostCBOR struct {
	CBOR string `json:"cbor"`
}

func (a *BlockfrostAdapter) GetTx(ctx context.Context, txHash string) (*TxInfo, error) {
	var tx blockfrostTx
	if err := a.getJSON(ctx, "/txs/"+txHash, &tx); err != nil {
		return nil, err
	}

	var utxos blockfrostUTXOs
	if err := a.getJSON(ctx, "/txs/"+txHash+"/utxos", &utxos); err != nil {
		return nil, err
	}

	var raw blockfrostCBOR
	if err := a.getJSON(ctx, "/txs/"+txHash+"/cbor", &raw); err != nil {
		return nil, err
	}
	rawBody, err := hex.DecodeString(raw.CBOR)
	if err != nil {
		return nil, fmt.Errorf("chain: tx %s cbor is not hex: %w", txHash, err)
	}

	latest, err := a.latestBlockHeight(ctx)
	if err != nil {
		return nil, err
	}

	info := &TxInfo{
		TxHash:        tx.Hash,
		BlockHash:     tx.Block,
		BlockTime:     tx.BlockTime,
		Confirmations: latest - tx.BlockHeight + 1,
		Inputs:        utxos.Inputs,
		Outputs:       utxos.Outputs,
		RawBody:       rawBody,
	}
	for i := range info.Outputs {
		info.Outputs[i].TxHash = tx.Hash
	}
	return info, nil
}

type blockfrostSubmitResponse string

func (a *BlockfrostAdapter) SubmitTx(ctx context.Context, signed []byte) (string, error) {
	body, status, err := a.do(ctx, http.MethodPost, "/tx/submit", "application/cbor", signed)
	if err != nil {
		return "", err
	}
	if status == http.StatusBadRequest {
		return "", fmt.Errorf("%w: %s", ErrRejected, string(body))
	}

	var hash blockfrostSubmitResponse
	if err := json.Unmarshal(body, &hash); err != nil {
		return "", fmt.Errorf("chain: unexpected submit response: %w", err)
	}
	return string(hash), nil
}

type blockfrostEvaluateResponse struct {
	Result struct {
		EvaluationResult map[string]ExUnits `json:"EvaluationResult"`
	} `json:"result"`
}

func (a *BlockfrostAdapter) EvaluateTx(ctx context.Context, raw []byte) (map[string]ExUnits, error) {
	payload := []byte(hex.EncodeToString(raw))
	body, status, err := a.do(ctx, http.MethodPost, "/utils/txs/evaluate", "application/cbor", payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s", ErrRejected, string(body))
	}

	var resp blockfrostEvaluateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("chain: unexpected evaluate response: %w", err)
	}
	return resp.Result.EvaluationResult, nil
}

type blockfrostBlock struct {
	Height int64 `json:"height"`
}

func (a *BlockfrostAdapter) latestBlockHeight(ctx context.Context) (int64, error) {
	a.mu.Lock()
	if time.Since(a.latestHeightTime) < latestBlockTTL && a.latestHeight > 0 {
		height := a.latestHeight
		a.mu.Unlock()
		return height, nil
	}
	a.mu.Unlock()

	var block blockfrostBlock
	if err := a.getJSON(ctx, "/blocks/latest", &block); err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.latestHeight = block.Height
	a.latestHeightTime = time.Now()
	a.mu.Unlock()
	return block.Height, nil
}

func (a *BlockfrostAdapter) getJSON(ctx context.Context, path string, out interface{}) error {
	body, status, err := a.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("chain: unexpected status %d for %s: %s", status, path, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("chain: decoding %s: %w", path, err)
	}
	return nil
}

// do performs one request with the adapter-level retry policy: exponential
// back-off starting at 500ms, doubling, capped at 15s, five attempts. Only
// transient failures are retried; 404 and 400 are returned to the caller.
func (a *BlockfrostAdapter) do(ctx context.Context, method, path, contentType string, payload []byte) ([]byte, int, error) {
	var lastErr error
	delay := retryInitialDelay

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}

		body, status, err := a.doOnce(ctx, method, path, contentType, payload)
		if err == nil {
			switch {
			case status == http.StatusNotFound:
				return nil, status, ErrNotFound
			case status == http.StatusTooManyRequests || status >= 500:
				lastErr = fmt.Errorf("chain: status %d for %s", status, path)
			default:
				return body, status, nil
			}
		} else {
			lastErr = err
		}

		if attempt == retryAttempts {
			break
		}

		a.log.WithError(lastErr).WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt,
		}).Warn("Indexer request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}

	return nil, 0, fmt.Errorf("chain: %s %s failed after %d attempts: %w", method, path, retryAttempts, lastErr)
}

func (a *BlockfrostAdapter) doOnce(ctx context.Context, method, path, contentType string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("project_id", a.projectID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
