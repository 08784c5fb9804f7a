// internal/services/dispatch.go
package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/masumi-network/payment-coordinator/internal/cardano"
	"github.com/masumi-network/payment-coordinator/internal/chain"
	"github.com/masumi-network/payment-coordinator/internal/config"
	"github.com/masumi-network/payment-coordinator/internal/models"
	"github.com/masumi-network/payment-coordinator/internal/repository"
)

// The engine does not estimate fees; a flat fee large enough for every
// escrow transaction shape is paid and the change absorbs the rest.
const defaultFeeLovelace = 2_000_000

// validityMarginSeconds bounds each authored transaction to a window of
// now +/- 150s, expressed in network slots.
const validityMarginSeconds = 150

var errNoUTXOs = errors.New("wallet has no UTXOs available")

// DispatchService authors transactions for entities whose next action is a
// *Requested state: it locks the wallet, builds and evaluates the
// transaction, persists the Initiated state with a placeholder Pending
// transaction, then signs, submits and records the hash. Failures roll the
// entity back to its Requested state with a chained error note.
type DispatchService struct {
	store    *repository.Store
	cfg      *config.Config
	adapters AdapterFactory
	keys     cardano.KeyProvider
	now      func() time.Time
	log      *logrus.Entry
}

func NewDispatchService(store *repository.Store, cfg *config.Config, adapters AdapterFactory, keys cardano.KeyProvider) *DispatchService {
	return &DispatchService{
		store:    store,
		cfg:      cfg,
		adapters: adapters,
		keys:     keys,
		now:      time.Now,
		log:      logrus.WithField("service", "dispatch"),
	}
}

// DispatchAll runs every dispatcher family once, per enabled source.
func (s *DispatchService) DispatchAll(ctx context.Context) {
	sources, err := repository.EnabledSources(s.store.DB())
	if err != nil {
		s.log.WithError(err).Error("Failed to list payment sources")
		return
	}

	for i := range sources {
		source := &sources[i]
		adapter := s.adapters(source)

		s.dispatchRegistrations(ctx, adapter, source)
		s.dispatchDeregistrations(ctx, adapter, source)
		s.dispatchFundsLocking(ctx, adapter, source)
		s.dispatchResultSubmissions(ctx, adapter, source)
		s.dispatchRefundRequests(ctx, adapter, source)
		s.dispatchCancelRefundRequests(ctx, adapter, source)
		s.dispatchRefundAuthorizations(ctx, adapter, source)
		s.dispatchWithdrawals(ctx, adapter, source)
		s.dispatchRefundWithdrawals(ctx, adapter, source)
		s.dispatchDisputedWithdrawals(ctx, adapter, source)
	}
}

// dispatchJob is one entity's trip through the submit pipeline.
type dispatchJob struct {
	wallet *models.HotWallet

	// build assembles the transaction. It runs after the wallet lock is
	// held and may call the chain adapter.
	build func() (*cardano.TxBuilder, error)

	// markInitiated advances the entity to its Initiated state and links
	// the placeholder transaction.
	markInitiated func(tx *gorm.DB, transactionID uuid.UUID) error

	// attach sets the entity back-reference on the placeholder transaction.
	attach func(t *models.Transaction)

	// onSuccess runs after the hash is recorded (optional).
	onSuccess func(tx *gorm.DB, txHash string) error

	// onFailure returns the entity to its Requested (or failed) state.
	onFailure func(tx *gorm.DB, note string) error
}

func (s *DispatchService) run(ctx context.Context, adapter chain.Adapter, job dispatchJob) {
	now := s.now()

	locked, err := repository.LockWallet(s.store.DB(), job.wallet.ID, s.cfg.Engine.WalletLockTimeout, now)
	if err != nil {
		s.log.WithError(err).WithField("wallet", job.wallet.ID).Error("Wallet lock failed")
		return
	}
	if !locked {
		s.log.WithField("wallet", job.wallet.ID).Debug("Wallet busy, skipping entity this cycle")
		return
	}

	final, err := s.buildAndEvaluate(ctx, adapter, job.build)
	if err != nil {
		s.failBeforeSubmit(ctx, job, fmt.Sprintf("Failed to build transaction: %v", err))
		return
	}

	placeholder := models.Transaction{
		Status:         models.TransactionStatusPending,
		BlocksWalletID: &job.wallet.ID,
	}
	job.attach(&placeholder)
	err = s.store.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&placeholder).Error; err != nil {
			return err
		}
		return job.markInitiated(tx, placeholder.ID)
	})
	if err != nil {
		s.failBeforeSubmit(ctx, job, fmt.Sprintf("Failed to persist transaction intent: %v", err))
		return
	}

	key, err := s.keys.PaymentKey(job.wallet.EncryptedMnemonic)
	if err == nil {
		witness := cardano.Sign(final.BodyHash, key)
		var signed []byte
		signed, err = final.Assemble([]cardano.VKeyWitness{witness})
		if err == nil {
			var txHash string
			txHash, err = adapter.SubmitTx(ctx, signed)
			if err == nil {
				s.recordSubmitted(ctx, job, placeholder.ID, txHash)
				return
			}
		}
	}

	note := fmt.Sprintf("Failed to submit transaction: %v", err)
	s.log.WithError(err).WithField("wallet", job.wallet.ID).Warn("Dispatch failed")
	if err := s.store.InTx(ctx, func(tx *gorm.DB) error {
		if err := job.onFailure(tx, note); err != nil {
			return err
		}
		return repository.FinalizeTransaction(tx, placeholder.ID, models.TransactionStatusRolledBack)
	}); err != nil {
		s.log.WithError(err).Error("Failed to roll back dispatch state")
	}
}

func (s *DispatchService) failBeforeSubmit(ctx context.Context, job dispatchJob, note string) {
	s.log.WithField("wallet", job.wallet.ID).Warn(note)
	if err := s.store.InTx(ctx, func(tx *gorm.DB) error {
		if err := job.onFailure(tx, note); err != nil {
			return err
		}
		return repository.UnlockWallet(tx, job.wallet.ID)
	}); err != nil {
		s.log.WithError(err).Error("Failed to roll back dispatch state")
	}
}

func (s *DispatchService) recordSubmitted(ctx context.Context, job dispatchJob, transactionID uuid.UUID, txHash string) {
	if err := s.store.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&models.Transaction{}).Where("id = ?", transactionID).Update("tx_hash", txHash).Error; err != nil {
			return err
		}
		if job.onSuccess != nil {
			return job.onSuccess(tx, txHash)
		}
		return nil
	}); err != nil {
		// The tx is on chain; the sync loop reconciles the placeholder.
		s.log.WithError(err).WithField("tx", txHash).Error("Submitted but failed to record hash")
	}
}

// buildAndEvaluate runs the build-evaluate-rebuild cycle: the first build
// carries zero execution units, evaluation prices every redeemer, the
// second build bakes the budgets in.
func (s *DispatchService) buildAndEvaluate(ctx context.Context, adapter chain.Adapter, build func() (*cardano.TxBuilder, error)) (*cardano.BuiltTx, error) {
	builder, err := build()
	if err != nil {
		return nil, err
	}

	draft, err := builder.Build()
	if err != nil {
		return nil, err
	}

	unsigned, err := draft.Assemble(nil)
	if err != nil {
		return nil, err
	}

	units, err := adapter.EvaluateTx(ctx, unsigned)
	if err != nil {
		return nil, err
	}
	for i, r := range builder.Redeemers() {
		key := fmt.Sprintf("%s:%d", redeemerTagName(r.Tag), r.Index)
		if u, ok := units[key]; ok {
			if err := builder.SetRedeemerUnits(i, cardano.ExUnits{Mem: u.Mem, Steps: u.Steps}); err != nil {
				return nil, err
			}
		}
	}

	return builder.Build()
}

func redeemerTagName(tag uint64) string {
	if tag == cardano.RedeemerTagMint {
		return "mint"
	}
	return "spend"
}

// selectUTXOs implements largest-first coin selection over the wallet's
// unspent outputs, bounded by MAX_UTXOS_PER_TX.
func (s *DispatchService) selectUTXOs(ctx context.Context, adapter chain.Adapter, address string) ([]chain.UTxO, error) {
	utxos, err := adapter.ListUTxOsAt(ctx, address)
	if err != nil {
		return nil, err
	}
	if len(utxos) == 0 {
		return nil, errNoUTXOs
	}

	sort.Slice(utxos, func(i, j int) bool {
		return utxoLovelace(utxos[i]) > utxoLovelace(utxos[j])
	})

	if len(utxos) > s.cfg.Engine.MaxUTXOsPerTx {
		utxos = utxos[:s.cfg.Engine.MaxUTXOsPerTx]
	}
	return utxos, nil
}

func utxoLovelace(u chain.UTxO) int64 {
	for _, a := range u.Amounts {
		if a.Unit == cardano.LovelaceUnit {
			return a.Quantity
		}
	}
	return 0
}

// pickCollateral finds a plain-ada output big enough to serve as script
// collateral.
func pickCollateral(utxos []chain.UTxO, minLovelace int64) (chain.UTxO, bool) {
	for _, u := range utxos {
		if len(u.Amounts) == 1 && u.Amounts[0].Unit == cardano.LovelaceUnit && u.Amounts[0].Quantity >= minLovelace {
			return u, true
		}
	}
	return chain.UTxO{}, false
}

func (s *DispatchService) validityWindow(networkID byte) (uint64, uint64) {
	now := s.now()
	start := cardano.SlotForTime(networkID, now.Add(-validityMarginSeconds*time.Second))
	end := cardano.SlotForTime(networkID, now.Add(validityMarginSeconds*time.Second))
	return start, end
}

// escrowUTXO locates the live escrow output produced by the request's
// current transaction.
func escrowUTXO(ctx context.Context, adapter chain.Adapter, scriptAddress, currentTxHash string) (*chain.UTxO, error) {
	if currentTxHash == "" {
		return nil, errors.New("request has no current on-chain transaction")
	}
	info, err := adapter.GetTx(ctx, currentTxHash)
	if err != nil {
		return nil, err
	}
	for i := range info.Outputs {
		out := &info.Outputs[i]
		if out.Collateral || out.Address != scriptAddress {
			continue
		}
		return out, nil
	}
	return nil, fmt.Errorf("no escrow output found in tx %s", currentTxHash)
}

// escrowSpend describes a transaction that consumes the live escrow
// output: redeemer, optional continuation datum, payout outputs for
// terminal spends, extra required signers for admin paths.
type escrowSpend struct {
	source          *models.PaymentSource
	wallet          *models.HotWallet
	currentTxHash   string
	redeemer        cardano.RedeemerKind
	newDatum        *cardano.EscrowDatum
	extraOutputs    []cardano.TxOutput
	requiredSigners [][]byte
}

func (s *DispatchService) buildEscrowSpend(ctx context.Context, adapter chain.Adapter, sp escrowSpend) (*cardano.TxBuilder, error) {
	escrow, err := escrowUTXO(ctx, adapter, sp.source.SmartContractAddress, sp.currentTxHash)
	if err != nil {
		return nil, err
	}

	utxos, err := s.selectUTXOs(ctx, adapter, sp.wallet.Address)
	if err != nil {
		return nil, err
	}

	script, err := hex.DecodeString(sp.source.CompiledEscrowScript)
	if err != nil {
		return nil, fmt.Errorf("escrow script is not hex: %w", err)
	}

	walletKeyHash, err := hex.DecodeString(sp.wallet.Vkey)
	if err != nil {
		return nil, fmt.Errorf("wallet vkey is not hex: %w", err)
	}

	escrowInput := cardano.TxInput{TxHash: escrow.TxHash, Index: escrow.OutputIndex}
	inputs := append(inputsOf(utxos), escrowInput)

	change := totalValue(utxos)
	change.Add(cardano.LovelaceUnit, -defaultFeeLovelace)
	if change.Lovelace() <= 0 {
		return nil, fmt.Errorf("wallet balance below the flat fee")
	}

	builder := cardano.NewTxBuilder().
		SetScript(script).
		SetFee(defaultFeeLovelace).
		AddRequiredSigner(walletKeyHash).
		AddRedeemer(cardano.RedeemerEntry{
			Tag:   cardano.RedeemerTagSpend,
			Index: redeemerIndexFor(inputs, escrowInput),
			Data:  sp.redeemer.ToData(),
		})
	for _, in := range inputs {
		builder.AddInput(in)
	}
	for _, signer := range sp.requiredSigners {
		builder.AddRequiredSigner(signer)
	}
	if collateral, ok := pickCollateral(utxos, s.cfg.Engine.MinCollateralLovelace); ok {
		builder.AddCollateral(cardano.TxInput{TxHash: collateral.TxHash, Index: collateral.OutputIndex})
	}

	if sp.newDatum != nil {
		datumData, err := sp.newDatum.ToData()
		if err != nil {
			return nil, err
		}
		builder.AddOutput(cardano.TxOutput{
			Address: sp.source.SmartContractAddress,
			Value:   utxoValue(*escrow),
			Datum:   datumData,
		})
	}
	for _, out := range sp.extraOutputs {
		builder.AddOutput(out)
	}
	builder.AddOutput(cardano.TxOutput{Address: sp.wallet.Address, Value: change})

	networkID := cardano.NetworkIDFor(string(sp.source.Network))
	start, end := s.validityWindow(networkID)
	builder.SetValidity(start, end)
	return builder, nil
}

// redeemerIndexFor resolves the position of an input in the sorted input
// list, which is the index the redeemer must reference.
func redeemerIndexFor(inputs []cardano.TxInput, target cardano.TxInput) uint32 {
	sorted := make([]cardano.TxInput, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TxHash != sorted[j].TxHash {
			return sorted[i].TxHash < sorted[j].TxHash
		}
		return sorted[i].Index < sorted[j].Index
	})
	for i, in := range sorted {
		if in == target {
			return uint32(i)
		}
	}
	return 0
}

// totalValue sums the selected inputs.
func totalValue(utxos []chain.UTxO) cardano.Value {
	v := cardano.NewValue()
	for _, u := range utxos {
		for _, a := range u.Amounts {
			v.Add(a.Unit, a.Quantity)
		}
	}
	return v
}

func inputsOf(utxos []chain.UTxO) []cardano.TxInput {
	out := make([]cardano.TxInput, len(utxos))
	for i, u := range utxos {
		out[i] = cardano.TxInput{TxHash: u.TxHash, Index: u.OutputIndex}
	}
	return out
}
