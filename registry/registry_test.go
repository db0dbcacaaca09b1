package registry

import (
	"context"
	"math/big"
	"path/filepath"
	"strconv"
	"testing"

	"mabridge/EVMRPC"
	"mabridge/config"
	"mabridge/database"
	"mabridge/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const validatorKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	owner      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	user       = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bridgeAddr = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
)

func testConfig(ledgerKind string) config.Configuration {
	var cfg config.Configuration
	cfg.Storage.Driver = config.StorageMemory
	cfg.Validator.PrivateKey = validatorKey
	for _, id := range []uint64{1, 56} {
		cfg.Chains = append(cfg.Chains, config.ChainConfig{
			Name:          "chain" + strconv.FormatUint(id, 10),
			ChainID:       id,
			BridgeAddress: bridgeAddr.Hex(),
			Owner:         owner.Hex(),
			Validator:     owner.Hex(),
			SourceToken:   "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			DestToken:     "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
			Ledger:        ledgerKind,
		})
	}
	return cfg
}

func TestBuildMemory(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	r, err := Build(ctx, testConfig(config.LedgerMemory), nil, metrics.NewMetricsWithRegistry(prometheus.NewRegistry()))
	require.NoError(err)
	defer r.Close()

	require.NotNil(r.Validator)
	require.Equal(owner, r.Validator.Address())

	chains := r.Chains()
	require.Len(chains, 2)
	require.Equal(uint64(1), chains[0].ID())
	require.Equal(uint64(56), chains[1].ID())

	ch, ok := r.Chain(56)
	require.True(ok)
	v, err := ch.Bridge.Validator(ctx)
	require.NoError(err)
	require.Equal(owner, v)

	// the owner may mint, the bridge was granted the minter role
	src := ch.Ledger(SideSource)
	require.NoError(src.Mint(ctx, owner, user, big.NewInt(10)))
	require.NoError(src.Mint(ctx, bridgeAddr, user, big.NewInt(1)))

	_, ok = r.Chain(2)
	require.False(ok)
}

func TestBuildSqliteSharesOneDatabase(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	cfg := testConfig(config.LedgerDatabase)
	cfg.Storage.Driver = config.StorageSqlite
	cfg.Storage.Database = database.DatabaseConfig{Name: filepath.Join(t.TempDir(), "bridge.db")}

	r, err := Build(ctx, cfg, nil, nil)
	require.NoError(err)

	a, _ := r.Chain(1)
	require.NoError(a.Ledger(SideSource).Mint(ctx, owner, user, big.NewInt(7)))
	require.NoError(a.Ledger(SideSource).Approve(ctx, user, bridgeAddr, big.NewInt(7)))
	ev, err := a.Bridge.Swap(ctx, user, big.NewInt(7), user, 56)
	require.NoError(err)
	require.Equal(uint64(1), ev.Nonce)
	require.NoError(r.Close())

	// state survives a restart
	r, err = Build(ctx, cfg, nil, nil)
	require.NoError(err)
	defer r.Close()
	a, _ = r.Chain(1)
	last, err := a.Bridge.Store().LastNonce(ctx)
	require.NoError(err)
	require.Equal(uint64(1), last)

	// peer instance tokens are separate rows
	b, _ := r.Chain(56)
	bal, err := b.Ledger(SideSource).BalanceOf(ctx, user)
	require.NoError(err)
	require.Zero(bal.Sign())
}

func TestBuildRedis(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(err)

	cfg := testConfig(config.LedgerMemory)
	cfg.Storage.Driver = config.StorageRedis
	cfg.Server.RedisHost = mr.Host()
	cfg.Server.RedisPort = port

	r, err := Build(ctx, cfg, nil, nil)
	require.NoError(err)
	defer r.Close()

	require.True(mr.Exists("bridge:1:validator"))
	require.True(mr.Exists("bridge:56:validator"))
}

func TestBuildFailures(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(config.LedgerMemory)
	cfg.Validator.PrivateKey = "zz"
	_, err := Build(ctx, cfg, nil, nil)
	require.Error(t, err)

	cfg = testConfig(config.LedgerDatabase)
	_, err = Build(ctx, cfg, nil, nil)
	require.Error(t, err)

	cfg = testConfig(config.LedgerMemory)
	cfg.Storage.Driver = config.StorageRedis
	cfg.Server.RedisHost = "127.0.0.1"
	cfg.Server.RedisPort = 1
	_, err = Build(ctx, cfg, nil, nil)
	require.Error(t, err)

	cfg = testConfig(config.LedgerEVM)
	_, err = Build(ctx, cfg, nil, nil)
	require.ErrorIs(t, err, EVMRPC.ErrNoEndpoints)

	// operator key must be the bridge's
	cfg = testConfig(config.LedgerEVM)
	cfg.Chains[0].RPCList = []string{"http://127.0.0.1:1"}
	cfg.Chains[0].OperatorKey = validatorKey
	_, err = Build(ctx, cfg, nil, nil)
	require.Error(t, err)
}

func TestUserLedgerSignsWithUserKey(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	key, err := crypto.HexToECDSA(validatorKey)
	require.NoError(err)

	cfg := testConfig(config.LedgerMemory)
	r, err := Build(ctx, cfg, nil, nil)
	require.NoError(err)
	defer r.Close()

	ch, _ := r.Chain(1)
	l, err := ch.UserLedger(SideDest, key)
	require.NoError(err)
	require.Same(ch.Ledger(SideDest), l)

	ch.Config.Ledger = config.LedgerEVM
	ch.Config.RPCList = []string{"http://127.0.0.1:1"}
	l, err = ch.UserLedger(SideDest, key)
	require.NoError(err)
	erc20, ok := l.(*EVMRPC.ERC20Ledger)
	require.True(ok)
	require.Equal(owner, erc20.From())
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide("DEST")
	require.NoError(t, err)
	require.Equal(t, SideDest, s)
	_, err = ParseSide("both")
	require.Error(t, err)
}
