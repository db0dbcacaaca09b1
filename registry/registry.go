// Package registry turns the configuration into typed handles once at
// startup: one store per hosted chain, its token ledgers and its bridge.
package registry

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sort"
	"strings"

	"mabridge/EVMRPC"
	"mabridge/bridge"
	"mabridge/config"
	"mabridge/database"
	"mabridge/ledger"
	"mabridge/logger"
	"mabridge/metrics"
	bridgeredis "mabridge/redis"
	"mabridge/signer"
	"mabridge/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gorm.io/gorm"
)

// Side selects one of the two tokens of an instance
type Side string

const (
	SideSource Side = "source"
	SideDest   Side = "dest"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(s)) {
	case SideSource:
		return SideSource, nil
	case SideDest:
		return SideDest, nil
	default:
		return "", fmt.Errorf("unknown token side %q, expected source or dest", s)
	}
}

// Chain is one hosted bridge instance
type Chain struct {
	Config config.ChainConfig
	Bridge *bridge.Bridge

	db  *gorm.DB
	log logger.Logger
}

func (c *Chain) ID() uint64 {
	return c.Config.ChainID
}

func (c *Chain) Ledger(side Side) token.Ledger {
	if side == SideDest {
		return c.Bridge.DestLedger()
	}
	return c.Bridge.SourceLedger()
}

func (c *Chain) TokenAddress(side Side) common.Address {
	if side == SideDest {
		return c.Bridge.DestToken()
	}
	return c.Bridge.SourceToken()
}

// UserLedger returns the ledger a user acts on with key. Contract ledgers
// sign with the user's key, the others are shared.
func (c *Chain) UserLedger(side Side, key *ecdsa.PrivateKey) (token.Ledger, error) {
	if c.Config.Ledger != config.LedgerEVM {
		return c.Ledger(side), nil
	}
	l, err := c.UserLedgerFor(c.TokenAddress(side), key)
	if err != nil {
		return nil, err
	}
	return l, nil
}

type Registry struct {
	chains     map[uint64]*Chain
	Operations ledger.OperationStore
	// Validator is nil unless a validator key is configured
	Validator *signer.Validator
	Metrics   *metrics.Metrics

	closers []func() error
}

// Chain returns the hosted instance of chainID
func (r *Registry) Chain(chainID uint64) (*Chain, bool) {
	c, ok := r.chains[chainID]
	return c, ok
}

// Chains lists hosted instances ordered by chain id
func (r *Registry) Chains() []*Chain {
	chains := make([]*Chain, 0, len(r.chains))
	for _, c := range r.chains {
		chains = append(chains, c)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ID() < chains[j].ID() })
	return chains
}

func (r *Registry) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}

type backend struct {
	newStore func(chainID uint64) ledger.Store
	ops      ledger.OperationStore
	db       *gorm.DB
}

func openBackend(cfg config.Configuration, lg logger.Logger, r *Registry) (*backend, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory, "":
		return &backend{
			newStore: func(uint64) ledger.Store { return ledger.NewMemoryStore() },
			ops:      ledger.NewMemoryOperations(),
		}, nil

	case config.StorageRedis:
		addr := fmt.Sprintf("%s:%d", cfg.Server.RedisHost, cfg.Server.RedisPort)
		pool := bridgeredis.NewPool(addr)
		r.closers = append(r.closers, pool.Close)
		// without persistence do not continue
		if err := bridgeredis.Ping(pool); err != nil {
			return nil, fmt.Errorf("error connecting to redis at %s: %w", addr, err)
		}
		lg.Info("connected to redis", "addr", addr)
		return &backend{
			newStore: func(chainID uint64) ledger.Store { return bridgeredis.NewStore(pool, chainID, lg) },
			ops:      bridgeredis.NewOperationStore(pool, lg),
		}, nil

	case config.StorageSqlite, config.StoragePostgres:
		dbConf := cfg.Storage.Database
		if dbConf.Driver == "" {
			dbConf.Driver = cfg.Storage.Driver
		}
		db, err := database.ConnectToDB(dbConf, lg)
		if err != nil {
			return nil, fmt.Errorf("error connecting to database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			r.closers = append(r.closers, sqlDB.Close)
		}
		return &backend{
			newStore: func(chainID uint64) ledger.Store { return database.NewStore(db, chainID) },
			ops:      database.NewOperationStore(db),
			db:       db,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// Build opens storage and constructs every configured bridge instance. The
// registry owns the opened connections until Close.
func Build(ctx context.Context, cfg config.Configuration, lg logger.Logger, m *metrics.Metrics) (*Registry, error) {
	if lg == nil {
		lg = logger.NewNop()
	}
	r := &Registry{
		chains:  make(map[uint64]*Chain, len(cfg.Chains)),
		Metrics: m,
	}

	if cfg.Validator.PrivateKey != "" {
		v, err := signer.NewValidator(cfg.Validator.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("validator key: %w", err)
		}
		r.Validator = v
		lg.Info("validator key loaded", "address", v.Address().Hex())
	}

	be, err := openBackend(cfg, lg.NewSystem("storage"), r)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.Operations = be.ops

	for _, chCfg := range cfg.Chains {
		if _, ok := r.chains[chCfg.ChainID]; ok {
			r.Close()
			return nil, fmt.Errorf("chain %d configured twice", chCfg.ChainID)
		}
		ch, err := buildChain(ctx, chCfg, be, lg.NewSystem("bridge"), m)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("chain %s (%d): %w", chCfg.Name, chCfg.ChainID, err)
		}
		r.chains[chCfg.ChainID] = ch
	}
	return r, nil
}

func buildChain(ctx context.Context, cfg config.ChainConfig, be *backend, lg logger.Logger, m *metrics.Metrics) (*Chain, error) {
	bridgeAddr := common.HexToAddress(cfg.BridgeAddress)
	owner := common.HexToAddress(cfg.Owner)
	sourceToken := common.HexToAddress(cfg.SourceToken)
	destToken := common.HexToAddress(cfg.DestToken)

	ch := &Chain{Config: cfg, db: be.db, log: lg.With("chainId", cfg.ChainID)}

	source, dest, err := ch.openLedgers(ctx, bridgeAddr, owner, sourceToken, destToken)
	if err != nil {
		return nil, err
	}

	var initial common.Address
	if cfg.Validator != "" {
		initial = common.HexToAddress(cfg.Validator)
	}

	b, err := bridge.New(ctx, bridge.Config{
		ChainID:          cfg.ChainID,
		Address:          bridgeAddr,
		Owner:            owner,
		InitialValidator: initial,
		SourceToken:      sourceToken,
		DestToken:        destToken,
		SourceLedger:     source,
		DestLedger:       dest,
		Store:            be.newStore(cfg.ChainID),
		SupportedChains:  cfg.SupportedChains,
		Logger:           lg,
		Metrics:          m,
	})
	if err != nil {
		return nil, err
	}
	ch.Bridge = b
	return ch, nil
}

// openLedgers binds both tokens of the instance. The owner administers the
// off-chain tokens and grants the bridge the minter role on them.
func (c *Chain) openLedgers(ctx context.Context, bridgeAddr, owner, sourceToken, destToken common.Address) (token.Ledger, token.Ledger, error) {
	switch c.Config.Ledger {
	case config.LedgerMemory, "":
		source := token.NewMemoryToken(c.Config.Name+" source", "SRC", owner)
		dest := token.NewMemoryToken(c.Config.Name+" dest", "DST", owner)
		for _, t := range []*token.MemoryToken{source, dest} {
			if err := t.GrantMinter(owner, bridgeAddr); err != nil {
				return nil, nil, err
			}
		}
		return source, dest, nil

	case config.LedgerDatabase:
		if c.db == nil {
			return nil, nil, fmt.Errorf("database ledger without database storage")
		}
		var ledgers [2]token.Ledger
		for i, addr := range []common.Address{sourceToken, destToken} {
			l, err := database.NewTokenLedger(ctx, c.db, c.Config.ChainID, addr, owner)
			if err != nil {
				return nil, nil, err
			}
			if err := l.GrantMinter(ctx, owner, bridgeAddr); err != nil {
				return nil, nil, err
			}
			ledgers[i] = l
		}
		return ledgers[0], ledgers[1], nil

	case config.LedgerEVM:
		var key *ecdsa.PrivateKey
		if c.Config.OperatorKey != "" {
			k, err := crypto.HexToECDSA(strings.TrimPrefix(c.Config.OperatorKey, "0x"))
			if err != nil {
				return nil, nil, fmt.Errorf("error instantiating operator key: %w", err)
			}
			if crypto.PubkeyToAddress(k.PublicKey) != bridgeAddr {
				return nil, nil, fmt.Errorf("operator key does not belong to bridge address %s", bridgeAddr.Hex())
			}
			key = k
		}
		source, err := c.UserLedgerFor(sourceToken, key)
		if err != nil {
			return nil, nil, err
		}
		dest, err := c.UserLedgerFor(destToken, key)
		if err != nil {
			return nil, nil, err
		}
		return source, dest, nil

	default:
		return nil, nil, fmt.Errorf("unsupported ledger: %s", c.Config.Ledger)
	}
}

// UserLedgerFor opens the contract ledger of tokenAddress signing with key
func (c *Chain) UserLedgerFor(tokenAddress common.Address, key *ecdsa.PrivateKey) (*EVMRPC.ERC20Ledger, error) {
	return EVMRPC.NewERC20Ledger(EVMRPC.ERC20Config{
		ChainID:  c.Config.ChainID,
		Token:    tokenAddress,
		RPCList:  c.Config.RPCList,
		Key:      key,
		GasLimit: c.Config.GasLimit,
		Retries:  c.Config.Retries,
		Logger:   c.log,
	})
}
