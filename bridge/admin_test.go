package bridge

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestSetValidator(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.bridge.Owner()

	require.ErrorIs(env.bridge.SetValidator(ctx, user1, user1), ErrUnauthorized)
	require.ErrorIs(env.bridge.SetValidator(ctx, owner, common.Address{}), ErrZeroAddress)

	require.NoError(env.bridge.SetValidator(ctx, owner, user1))
	v, err := env.bridge.Validator(ctx)
	require.NoError(err)
	require.Equal(user1, v)

	events, err := env.store.ValidatorEvents(ctx)
	require.NoError(err)
	require.Len(events, 2)
	require.Equal(owner, events[0].Current)
	require.Equal(owner, events[1].Previous)
	require.Equal(user1, events[1].Current)
	require.Equal(fixedNow.Unix(), events[1].Timestamp)
}

func TestSetValidatorKeepsConsumedNonces(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	req := env.sign(t, env.validator, 10, user2)
	_, err := env.bridge.Redeem(ctx, req)
	require.NoError(err)

	require.NoError(env.bridge.SetValidator(ctx, env.bridge.Owner(), user1))
	require.NoError(env.bridge.SetValidator(ctx, env.bridge.Owner(), env.validator.Address()))

	_, err = env.bridge.Redeem(ctx, req)
	require.ErrorIs(err, ErrAlreadyRedeemed)
}
