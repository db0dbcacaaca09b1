package bridge

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SetValidator replaces the validator. Only the owner may call it; the new
// validator applies from the next Redeem and consumed nonces stay consumed.
func (b *Bridge) SetValidator(ctx context.Context, caller, validator common.Address) error {
	if caller != b.owner {
		return ErrUnauthorized
	}
	if validator == (common.Address{}) {
		return fmt.Errorf("%w: validator", ErrZeroAddress)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ev, err := b.store.SetValidator(ctx, validator, b.now().Unix())
	if err != nil {
		return fmt.Errorf("error setting validator: %w", err)
	}

	b.log.Info("validator changed", "previous", ev.Previous.Hex(), "current", ev.Current.Hex())
	if b.metrics != nil {
		b.metrics.ValidatorRotations.WithLabelValues(b.label()).Inc()
	}
	return nil
}
