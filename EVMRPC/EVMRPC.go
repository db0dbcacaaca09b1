package EVMRPC

import (
	"context"
	"errors"

	"mabridge/logger"

	"github.com/ethereum/go-ethereum/ethclient"
)

var ErrNoEndpoints = errors.New("no RPC endpoints configured")

// WithClient runs f against each RPC endpoint in turn until one succeeds and
// returns the last error otherwise
func WithClient[T any](ctx context.Context, rpcList []string, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	if len(rpcList) == 0 {
		err = ErrNoEndpoints
		return
	}

	lg := logger.FromContext(ctx)
	var client *ethclient.Client
	for _, url := range rpcList {
		client, err = ethclient.DialContext(ctx, url)
		if err != nil {
			lg.Warn("error connecting to RPC", "url", url, "error", err)
			continue
		}

		res, err = f(client)
		client.Close()
		if err == nil {
			return
		}
		lg.Warn("RPC call failed", "url", url, "error", err)
		if ctx.Err() != nil {
			return
		}
	}
	return
}
