// internal/services/sync_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/masumi-network/payment-coordinator/internal/cardano"
	"github.com/masumi-network/payment-coordinator/internal/chain"
	"github.com/masumi-network/payment-coordinator/internal/config"
	"github.com/masumi-network/payment-coordinator/internal/models"
	"github.com/masumi-network/payment-coordinator/internal/repository"
)

// AdapterFactory resolves the chain adapter for a payment source. Each
// source carries its own indexer credentials and network.
type AdapterFactory func(source *models.PaymentSource) chain.Adapter

const rollbackNote = "Rolled back transaction detected"

// SyncService pulls the chain forward into the database: one cycle per
// payment source discovers new transactions at the script address, detects
// rollbacks, classifies each transaction and applies it to the mirrored
// request tables together with the cursor, all under serializable isolation.
type SyncService struct {
	store    *repository.Store
	cfg      *config.Config
	adapters AdapterFactory
	now      func() time.Time
	log      *logrus.Entry
}

func NewSyncService(store *repository.Store, cfg *config.Config, adapters AdapterFactory) *SyncService {
	return &SyncService{
		store:    store,
		cfg:      cfg,
		adapters: adapters,
		now:      time.Now,
		log:      logrus.WithField("service", "sync"),
	}
}

// SyncAllSources runs one sync cycle over every enabled payment source.
// Sources that fail are logged and skipped; one bad indexer must not stall
// the others.
func (s *SyncService) SyncAllSources(ctx context.Context) {
	sources, err := repository.EnabledSources(s.store.DB())
	if err != nil {
		s.log.WithError(err).Error("Failed to list payment sources")
		return
	}

	for i := range sources {
		source := &sources[i]

		acquired, err := repository.AcquireSyncLock(s.store.DB(), source.ID, s.cfg.Engine.SyncLockTimeout, s.now())
		if err != nil {
			s.log.WithError(err).WithField("source", source.ID).Error("Failed to acquire sync lock")
			continue
		}
		if !acquired {
			s.log.WithField("source", source.ID).Debug("Another instance is syncing this source")
			continue
		}

		if err := s.syncSource(ctx, source); err != nil {
			s.log.WithError(err).WithField("source", source.ID).Error("Sync cycle failed")
		}

		if err := repository.ReleaseSyncLock(s.store.DB(), source.ID); err != nil {
			s.log.WithError(err).WithField("source", source.ID).Error("Failed to release sync lock")
		}
	}
}

func (s *SyncService) syncSource(ctx context.Context, source *models.PaymentSource) error {
	adapter := s.adapters(source)

	s.confirmAuthoredTransactions(ctx, adapter, source)

	disc, err := s.discover(ctx, adapter, source)
	if err != nil {
		return err
	}

	if len(disc.rolledBack) > 0 {
		// Entities touched by the rollback go to manual handling; the
		// rewound cursor makes the next cycle re-discover from the fork.
		return s.handleRollback(ctx, source, disc.rolledBack, disc.forkTxHash)
	}

	return s.applyNewTxs(ctx, adapter, source, disc.newTxs)
}

type discovery struct {
	newTxs     []chain.AddressTx // chronological order
	rolledBack []models.PaymentSourceIdentifier
	forkTxHash *string
}

// discover pages through the address history newest-first until the cursor
// is found. A cursor that no longer appears in the history means the chain
// rolled back; the fork point is the newest trail entry still on chain.
func (s *SyncService) discover(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) (*discovery, error) {
	cursor := source.LastIdentifierChecked

	var collected []chain.AddressTx
	found := false
	for page := 1; !found; page++ {
		txs, err := adapter.ListTxsAt(ctx, source.SmartContractAddress, page)
		if err != nil {
			return nil, fmt.Errorf("listing txs at %s: %w", source.SmartContractAddress, err)
		}
		if len(txs) == 0 {
			break
		}
		for _, t := range txs {
			if cursor != nil && t.TxHash == *cursor {
				found = true
				break
			}
			collected = append(collected, t)
		}
	}

	if cursor != nil && !found {
		return s.discoverFork(ctx, adapter, source)
	}

	// Reverse into chronological order.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return &discovery{newTxs: collected}, nil
}

func (s *SyncService) discoverFork(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) (*discovery, error) {
	trail, err := repository.RecentIdentifiers(s.store.DB(), source.ID, 1000)
	if err != nil {
		return nil, err
	}

	for i, entry := range trail {
		_, err := adapter.GetTx(ctx, entry.TxHash)
		if err == nil {
			fork := entry.TxHash
			return &discovery{rolledBack: trail[:i], forkTxHash: &fork}, nil
		}
		if !errors.Is(err, chain.ErrNotFound) {
			return nil, err
		}
	}

	// The whole recorded history is gone.
	return &discovery{rolledBack: trail}, nil
}

func (s *SyncService) handleRollback(ctx context.Context, source *models.PaymentSource, rolledBack []models.PaymentSourceIdentifier, fork *string) error {
	s.log.WithFields(logrus.Fields{
		"source": source.ID,
		"txs":    len(rolledBack),
	}).Warn("Chain rollback detected")

	return s.store.InTx(ctx, func(tx *gorm.DB) error {
		for _, entry := range rolledBack {
			if err := s.rollBackTransaction(tx, entry.TxHash); err != nil {
				return err
			}
		}
		return repository.RewindCursor(tx, source.ID, fork)
	})
}

func (s *SyncService) rollBackTransaction(tx *gorm.DB, txHash string) error {
	var txs []models.Transaction
	if err := tx.Where("tx_hash = ? AND status <> ?", txHash, models.TransactionStatusRolledBack).Find(&txs).Error; err != nil {
		return err
	}

	for _, t := range txs {
		if err := repository.FinalizeTransaction(tx, t.ID, models.TransactionStatusRolledBack); err != nil {
			return err
		}

		if t.PaymentRequestID != nil {
			var req models.PaymentRequest
			if err := tx.First(&req, "id = ?", *t.PaymentRequestID).Error; err != nil {
				return err
			}
			if req.CurrentTransactionID != nil && *req.CurrentTransactionID == t.ID {
				updates := map[string]interface{}{
					"next_action": models.PaymentActionWaitingForManual,
					"error_type":  models.ErrorTypeUnknown,
					"error_note":  ChainErrorNote(req.ErrorNote, string(req.NextAction), rollbackNote),
				}
				if err := tx.Model(&models.PaymentRequest{}).Where("id = ?", req.ID).Updates(updates).Error; err != nil {
					return err
				}
			}
		}

		if t.PurchaseRequestID != nil {
			var req models.PurchaseRequest
			if err := tx.First(&req, "id = ?", *t.PurchaseRequestID).Error; err != nil {
				return err
			}
			if req.CurrentTransactionID != nil && *req.CurrentTransactionID == t.ID {
				updates := map[string]interface{}{
					"next_action": models.PurchasingActionWaitingForManual,
					"error_type":  models.ErrorTypeUnknown,
					"error_note":  ChainErrorNote(req.ErrorNote, string(req.NextAction), rollbackNote),
				}
				if err := tx.Model(&models.PurchaseRequest{}).Where("id = ?", req.ID).Updates(updates).Error; err != nil {
					return err
				}
			}
		}

		if t.RegistryRequestID != nil {
			note := rollbackNote
			updates := map[string]interface{}{
				"state": models.RegistrationStateFailed,
				"error": &note,
			}
			if err := tx.Model(&models.RegistryRequest{}).Where("id = ?", *t.RegistryRequestID).Updates(updates).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// applyNewTxs fetches extended info for the discovered transactions in
// bounded parallel batches and applies them in chronological order. A
// transaction below the confirmation threshold stops forward progress so
// ordering is preserved.
func (s *SyncService) applyNewTxs(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource, newTxs []chain.AddressTx) error {
	batchSize := s.cfg.Engine.MaxParallelTx

	for start := 0; start < len(newTxs); start += batchSize {
		end := start + batchSize
		if end > len(newTxs) {
			end = len(newTxs)
		}
		batch := newTxs[start:end]

		infos := make([]*chain.TxInfo, len(batch))
		errs := make([]error, len(batch))
		var wg sync.WaitGroup
		for i, t := range batch {
			wg.Add(1)
			go func(i int, txHash string) {
				defer wg.Done()
				infos[i], errs[i] = adapter.GetTx(ctx, txHash)
			}(i, t.TxHash)
		}
		wg.Wait()

		for i, info := range batch {
			if errs[i] != nil {
				return fmt.Errorf("fetching tx %s: %w", info.TxHash, errs[i])
			}
			if infos[i].Confirmations < s.cfg.Engine.BlockConfirmationsThreshold {
				s.log.WithField("tx", info.TxHash).Debug("Transaction below confirmation threshold, pausing sync")
				return nil
			}
			if err := s.applyTx(ctx, adapter, source, infos[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

type txClass int

const (
	txInvalid txClass = iota
	txInitial
	txTransition
)

type classified struct {
	class         txClass
	scriptInputs  []chain.UTxO
	scriptOutputs []chain.UTxO
	redeemer      *cardano.RedeemerEntry
	reason        string
}

func classifyTx(scriptAddress string, info *chain.TxInfo) classified {
	var c classified
	for _, in := range info.Inputs {
		if in.Collateral {
			continue
		}
		if in.Address == scriptAddress {
			c.scriptInputs = append(c.scriptInputs, in)
		}
	}
	for _, out := range info.Outputs {
		if out.Collateral {
			continue
		}
		if out.Address == scriptAddress {
			c.scriptOutputs = append(c.scriptOutputs, out)
		}
	}

	for _, out := range c.scriptOutputs {
		if out.ReferenceScriptHash != "" {
			c.class = txInvalid
			c.reason = "script output carries a reference script"
			return c
		}
	}

	redeemers, err := cardano.ExtractRedeemers(info.RawBody)
	if err != nil {
		c.class = txInvalid
		c.reason = fmt.Sprintf("unreadable witness set: %v", err)
		return c
	}
	var spends []cardano.RedeemerEntry
	for _, r := range redeemers {
		if r.Tag == cardano.RedeemerTagSpend {
			spends = append(spends, r)
		}
	}

	switch {
	case len(c.scriptInputs) == 0 && len(c.scriptOutputs) >= 1 && len(spends) == 0:
		c.class = txInitial
	case len(c.scriptInputs) == 1 && len(spends) == 1 && len(c.scriptOutputs) <= 1:
		c.class = txTransition
		c.redeemer = &spends[0]
	default:
		c.class = txInvalid
		c.reason = fmt.Sprintf("unsupported shape: %d script inputs, %d script outputs, %d redeemers",
			len(c.scriptInputs), len(c.scriptOutputs), len(spends))
	}
	return c
}

// applyTx classifies one transaction and applies it together with the
// cursor advance in a single serializable transaction. Invalid transactions
// still advance the cursor.
func (s *SyncService) applyTx(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource, info *chain.TxInfo) error {
	c := classifyTx(source.SmartContractAddress, info)

	return s.store.InTx(ctx, func(tx *gorm.DB) error {
		switch c.class {
		case txInitial:
			if err := s.applyInitial(tx, source, info, c.scriptOutputs); err != nil {
				return err
			}
		case txTransition:
			if err := s.applyTransition(ctx, tx, adapter, source, info, &c); err != nil {
				return err
			}
		default:
			s.log.WithFields(logrus.Fields{
				"tx":     info.TxHash,
				"reason": c.reason,
			}).Warn("Ignoring invalid transaction at script address")
		}

		return repository.AdvanceCursor(tx, source.ID, info.TxHash, info.BlockTime)
	})
}

// confirmAuthoredTransactions finalizes Pending transactions the
// dispatchers submitted once the chain confirms them. Escrow transactions
// are finalized when the sync loop applies the corresponding script event;
// this pass covers registry mints and burns, which never touch the script
// address.
func (s *SyncService) confirmAuthoredTransactions(ctx context.Context, adapter chain.Adapter, source *models.PaymentSource) {
	pending, err := repository.PendingTransactions(s.store.DB(), source.ID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list pending transactions")
		return
	}

	for _, t := range pending {
		if t.TxHash == "" || t.RegistryRequestID == nil {
			continue
		}

		info, err := adapter.GetTx(ctx, t.TxHash)
		if errors.Is(err, chain.ErrNotFound) {
			continue
		}
		if err != nil {
			s.log.WithError(err).WithField("tx", t.TxHash).Warn("Failed to check pending transaction")
			continue
		}
		if info.Confirmations < s.cfg.Engine.BlockConfirmationsThreshold {
			continue
		}

		transactionID := t.ID
		registryID := *t.RegistryRequestID
		err = s.store.InTx(ctx, func(tx *gorm.DB) error {
			if err := repository.FinalizeTransaction(tx, transactionID, models.TransactionStatusConfirmed); err != nil {
				return err
			}

			var req models.RegistryRequest
			if err := tx.First(&req, "id = ?", registryID).Error; err != nil {
				return err
			}

			var next models.RegistrationState
			switch req.State {
			case models.RegistrationStateInitiated:
				next = models.RegistrationStateConfirmed
			case models.RegistrationStateDeregisterInitiated:
				next = models.RegistrationStateDeregisterConfirmed
			default:
				return nil
			}
			return tx.Model(&models.RegistryRequest{}).Where("id = ?", req.ID).Update("state", next).Error
		})
		if err != nil {
			s.log.WithError(err).WithField("tx", t.TxHash).Error("Failed to confirm registry transaction")
		}
	}
}
