package workers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mabridge/ledger"
	"mabridge/logger"
	"mabridge/metrics"
	"mabridge/registry"
	"mabridge/signer"
	"mabridge/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	DefaultObserverInterval = 10 * time.Second
	DefaultObserverBatch    = 100
)

// Observer follows the swap events of every hosted chain from the scan
// cursor on and turns each one into a relay operation, signed when a
// validator key is present
type Observer struct {
	Chains     []*registry.Chain
	Operations ledger.OperationStore
	Validator  *signer.Validator
	Interval   time.Duration
	Batch      int
	Logger     logger.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// NewObserver fills the unset settings of o with defaults
func NewObserver(o Observer) *Observer {
	o.defaults()
	return &o
}

func (o *Observer) defaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultObserverInterval
	}
	if o.Batch <= 0 {
		o.Batch = DefaultObserverBatch
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Run scans until ctx is cancelled
func (o *Observer) Run(ctx context.Context) error {
	o.Logger.Info("observer started", "chains", len(o.Chains), "signing", o.Validator != nil)

	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	for {
		o.Cycle(ctx)

		select {
		case <-ctx.Done():
			o.Logger.Info("observer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle scans each chain once and signs operations left pending
func (o *Observer) Cycle(ctx context.Context) {
	for _, ch := range o.Chains {
		if ctx.Err() != nil {
			return
		}
		if _, err := o.ScanChain(ctx, ch); err != nil {
			o.Logger.Error("error scanning chain", "chainId", ch.ID(), "error", err)
		}
	}
	if o.Validator != nil {
		if err := o.SignPending(ctx); err != nil {
			o.Logger.Error("error signing pending operations", "error", err)
		}
	}
}

// ScanChain records the swaps of ch after the scan cursor and returns how many
// it stored. The cursor only moves past events that were stored.
func (o *Observer) ScanChain(ctx context.Context, ch *registry.Chain) (int, error) {
	chainID := ch.ID()

	scanned, err := o.Operations.ScannedNonce(ctx, chainID)
	if err != nil {
		return 0, fmt.Errorf("error getting scanned nonce: %w", err)
	}

	evs, err := ch.Bridge.Store().SwapsSince(ctx, scanned, o.Batch)
	if err != nil {
		return 0, fmt.Errorf("error reading swap events: %w", err)
	}
	if len(evs) > 0 {
		o.Logger.Debug("scanning swaps", "chainId", chainID, "from", evs[0].Nonce, "to", evs[len(evs)-1].Nonce)
	}

	stored := 0
	for _, ev := range evs {
		// never add an operation twice, a second signature is a second redeem attempt
		existing, err := o.Operations.FindOperation(ctx, chainID, ev.Nonce)
		if err != nil {
			return stored, fmt.Errorf("error searching operations: %w", err)
		}

		if existing != nil {
			o.Logger.Warn("found existing bridge operation for swap", "chainId", chainID, "nonce", ev.Nonce, "id", existing.ID, "status", existing.Status)
		} else {
			op := &types.BridgeOperation{
				Status:      types.OpStatusPending,
				SourceChain: chainID,
				DestChain:   ev.DestChainID,
				Nonce:       ev.Nonce,
				Request:     ev.SwapRequest,
				TsFound:     o.Now().Unix(),
			}
			if o.Validator != nil {
				if err := o.sign(op); err != nil {
					return stored, err
				}
			}
			if err := o.Operations.UpsertOperation(ctx, op); err != nil {
				// don't consider this swap as processed
				return stored, fmt.Errorf("cannot create bridge operation: %w", err)
			}
			o.Logger.Info("found new swap", "chainId", chainID, "nonce", ev.Nonce, "user", ev.SourceUser.Hex(), "amount", ev.Amount.String(), "destChainId", ev.DestChainID, "status", op.Status)
			stored++
		}

		if err := o.Operations.SetScannedNonce(ctx, chainID, ev.Nonce); err != nil {
			return stored, fmt.Errorf("error saving scanned nonce: %w", err)
		}
		if o.Metrics != nil {
			o.Metrics.LastObservedNonce.WithLabelValues(strconv.FormatUint(chainID, 10)).Set(float64(ev.Nonce))
		}
	}
	return stored, nil
}

// SignPending attaches signatures to operations found while no validator key
// was configured
func (o *Observer) SignPending(ctx context.Context) error {
	if o.Validator == nil {
		return errors.New("no validator key configured")
	}

	pending, err := o.Operations.FindOperationsByStatus(ctx, types.OpStatusPending)
	if err != nil {
		return err
	}
	for _, op := range pending {
		if err := o.sign(op); err != nil {
			return err
		}
		if err := o.Operations.ChangeOperationStatus(ctx, op, types.OpStatusPending); err != nil {
			return fmt.Errorf("error saving signed operation %s: %w", op.ID, err)
		}
		o.Logger.Info("signed pending operation", "id", op.ID, "sourceChainId", op.SourceChain, "nonce", op.Nonce)
	}
	return nil
}

func (o *Observer) sign(op *types.BridgeOperation) error {
	digest, sig, err := o.Validator.SignRequest(op.Request)
	if err != nil {
		op.AppendMessage(fmt.Sprintf("cannot sign: %s", err))
		return fmt.Errorf("error signing swap %d of chain %d: %w", op.Nonce, op.SourceChain, err)
	}
	op.Digest = digest.Hex()
	op.Signature = hexutil.Encode(sig)
	op.Status = types.OpStatusSigned
	if o.Metrics != nil {
		o.Metrics.SignaturesProduced.WithLabelValues(strconv.FormatUint(op.SourceChain, 10)).Inc()
	}
	return nil
}
