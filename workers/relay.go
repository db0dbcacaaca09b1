package workers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mabridge/bridge"
	"mabridge/ledger"
	"mabridge/logger"
	"mabridge/metrics"
	"mabridge/registry"
	"mabridge/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	DefaultRelayInterval = 3 * time.Second
	DefaultRelayRetries  = 3
)

// ErrEmergencyStop stops the relay when an operation cannot be saved after a
// redeem, running on would repeat the redeem
var ErrEmergencyStop = errors.New("relay stopped, cannot save bridge operation")

// Relay redeems signed operations whose destination chain is hosted here.
// Operations for other chains stay signed for manual relaying.
type Relay struct {
	Registry   *registry.Registry
	Operations ledger.OperationStore
	Interval   time.Duration
	// Retries bounds the redeem attempts that end in errors other than a
	// rejected signature or a consumed nonce
	Retries int
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

func NewRelay(r Relay) *Relay {
	if r.Interval <= 0 {
		r.Interval = DefaultRelayInterval
	}
	if r.Retries <= 0 {
		r.Retries = DefaultRelayRetries
	}
	if r.Logger == nil {
		r.Logger = logger.NewNop()
	}
	return &r
}

func (r *Relay) Run(ctx context.Context) error {
	r.Logger.Info("relay started", "retries", r.Retries)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.ProcessSigned(ctx); err != nil {
			if errors.Is(err, ErrEmergencyStop) {
				r.Logger.Error("emergency exit to avoid looping", "error", err)
				return err
			}
			r.Logger.Error("error processing signed operations", "error", err)
		}
		r.recordOperations(ctx)

		select {
		case <-ctx.Done():
			r.Logger.Info("relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessSigned makes one redeem attempt for every signed operation bound to a
// hosted chain and returns the number of operations that left the signed set
func (r *Relay) ProcessSigned(ctx context.Context) (int, error) {
	signed, err := r.Operations.FindOperationsByStatus(ctx, types.OpStatusSigned)
	if err != nil {
		return 0, fmt.Errorf("error getting signed bridge operations: %w", err)
	}

	done := 0
	for _, op := range signed {
		if ctx.Err() != nil {
			return done, nil
		}
		ch, ok := r.Registry.Chain(op.DestChain)
		if !ok {
			continue
		}

		r.execute(ctx, ch, op)

		// update record
		if err := r.Operations.ChangeOperationStatus(ctx, op, types.OpStatusSigned); err != nil {
			return done, fmt.Errorf("%w: %s: %v", ErrEmergencyStop, op.ID, err)
		}
		if op.Status != types.OpStatusSigned {
			done++
		}
	}
	return done, nil
}

// execute redeems op on ch and moves op to its next status
func (r *Relay) execute(ctx context.Context, ch *registry.Chain, op *types.BridgeOperation) {
	lg := r.Logger.With("id", op.ID).With("sourceChainId", op.SourceChain).With("nonce", op.Nonce)
	op.Attempts++

	sig, err := hexutil.Decode(op.Signature)
	if err != nil {
		op.Status = types.OpStatusFailed
		op.AppendMessage(fmt.Sprintf("malformed signature: %s", err))
		lg.Error("malformed signature on bridge operation", "error", err)
		r.countAttempt(op, metrics.ResultInvalidSignature)
		return
	}

	_, err = ch.Bridge.Redeem(ctx, RedeemRequestOf(op, sig))
	switch {
	case err == nil:
		op.Status = types.OpStatusRedeemed
		lg.Info("redeemed bridge operation", "destChainId", op.DestChain, "recipient", op.Request.DestUser.Hex(), "amount", op.Request.Amount.String())
		r.countAttempt(op, metrics.ResultSuccess)

	case errors.Is(err, bridge.ErrAlreadyRedeemed):
		// somebody relayed it first
		op.Status = types.OpStatusRedeemed
		op.AppendMessage("nonce already consumed on destination")
		lg.Warn("duplicate relay, nonce already redeemed")
		r.countAttempt(op, metrics.ResultAlreadyRedeemed)

	case errors.Is(err, bridge.ErrCompensationFailed):
		// minted without a redemption record, the nonce stays consumed
		op.Status = types.OpStatusRedeemed
		op.AppendMessage(fmt.Sprintf("redeemed, redemption record missing: %s", err))
		lg.Error("redeem minted but could not be recorded", "error", err)
		r.countAttempt(op, metrics.ResultError)

	case errors.Is(err, bridge.ErrInvalidSignature):
		op.Status = types.OpStatusFailed
		op.AppendMessage("signature rejected by destination, validator rotated?")
		lg.Error("signature rejected on redeem")
		r.countAttempt(op, metrics.ResultInvalidSignature)

	default:
		op.AppendMessage(fmt.Sprintf("redeem attempt %d: %s", op.Attempts, err))
		if op.Attempts >= r.Retries {
			op.Status = types.OpStatusFailed
			lg.Error("giving up on bridge operation", "attempts", op.Attempts, "error", err)
		} else {
			lg.Warn("redeem failed, will retry", "attempts", op.Attempts, "error", err)
		}
		r.countAttempt(op, metrics.ResultError)
	}
}

// RedeemRequestOf builds the redeem call that spends the signature of op
func RedeemRequestOf(op *types.BridgeOperation, sig []byte) bridge.RedeemRequest {
	return bridge.RedeemRequest{
		Nonce:         op.Nonce,
		SourceUser:    op.Request.SourceUser,
		SourceChainID: op.SourceChain,
		Amount:        op.Request.Amount,
		Recipient:     op.Request.DestUser,
		Signature:     sig,
	}
}

func (r *Relay) countAttempt(op *types.BridgeOperation, result string) {
	if r.Metrics == nil {
		return
	}
	r.Metrics.RelayAttempts.WithLabelValues(strconv.FormatUint(op.DestChain, 10), result).Inc()
}

func (r *Relay) recordOperations(ctx context.Context) {
	if r.Metrics == nil {
		return
	}
	for _, status := range types.OpStatuses {
		ops, err := r.Operations.FindOperationsByStatus(ctx, status)
		if err != nil {
			r.Logger.Warn("cannot count operations", "status", status, "error", err)
			continue
		}
		r.Metrics.Operations.WithLabelValues(status).Set(float64(len(ops)))
	}
}
