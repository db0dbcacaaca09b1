package EVMRPC

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"mabridge/logger"
	"mabridge/token"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// maximum number of EVM RPC retries
const DefaultRetries = 3

const DefaultGasLimit = uint64(200000)

// mintable/burnable subset of ERC20PresetMinterPauser
const erc20ABI = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"burnFrom","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

var parsedERC20 abi.ABI

func init() {
	var err error
	parsedERC20, err = abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
}

var ErrReverted = errors.New("transaction reverted")

type ERC20Config struct {
	ChainID  uint64
	Token    common.Address
	RPCList  []string
	Key      *ecdsa.PrivateKey
	GasLimit uint64
	Retries  int
	Logger   logger.Logger
}

// ERC20Ledger drives a deployed token contract. Writes are signed with Key,
// so the acting account of every write must be the key's address.
type ERC20Ledger struct {
	chainID  uint64
	token    common.Address
	rpcList  []string
	key      *ecdsa.PrivateKey
	from     common.Address
	gasLimit uint64
	retries  int
	log      logger.Logger

	// one pending nonce at a time
	mu sync.Mutex
}

var _ token.Ledger = (*ERC20Ledger)(nil)

func NewERC20Ledger(cfg ERC20Config) (*ERC20Ledger, error) {
	if len(cfg.RPCList) == 0 {
		return nil, ErrNoEndpoints
	}
	l := &ERC20Ledger{
		chainID:  cfg.ChainID,
		token:    cfg.Token,
		rpcList:  cfg.RPCList,
		key:      cfg.Key,
		gasLimit: cfg.GasLimit,
		retries:  cfg.Retries,
		log:      cfg.Logger,
	}
	if l.key != nil {
		l.from = crypto.PubkeyToAddress(l.key.PublicKey)
	}
	if l.gasLimit == 0 {
		l.gasLimit = DefaultGasLimit
	}
	if l.retries <= 0 {
		l.retries = DefaultRetries
	}
	if l.log == nil {
		l.log = logger.NewNop()
	}
	l.log = l.log.With("chainId", cfg.ChainID).With("token", cfg.Token.Hex())
	return l, nil
}

// From is the account writes are sent from
func (l *ERC20Ledger) From() common.Address {
	return l.from
}

func (l *ERC20Ledger) contract(client *ethclient.Client) *bind.BoundContract {
	return bind.NewBoundContract(l.token, parsedERC20, client, client, client)
}

func (l *ERC20Ledger) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	ctx = logger.SetContextLogger(ctx, l.log)
	return WithClient(ctx, l.rpcList, func(client *ethclient.Client) (*big.Int, error) {
		var out []interface{}
		if err := l.contract(client).Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
			return nil, err
		}
		if len(out) != 1 {
			return nil, fmt.Errorf("unexpected %s output", method)
		}
		value, ok := out[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("unexpected %s output type %T", method, out[0])
		}
		return value, nil
	})
}

func (l *ERC20Ledger) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return l.callUint(ctx, "balanceOf", account)
}

func (l *ERC20Ledger) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return l.callUint(ctx, "allowance", owner, spender)
}

func (l *ERC20Ledger) checkIdentity(acting common.Address) error {
	if l.key == nil || acting != l.from {
		return fmt.Errorf("%w: %s", token.ErrIdentityMismatch, acting.Hex())
	}
	return nil
}

func (l *ERC20Ledger) Mint(ctx context.Context, minter, to common.Address, amount *big.Int) error {
	if err := l.checkIdentity(minter); err != nil {
		return err
	}
	_, err := l.transact(ctx, "mint", to, amount)
	return err
}

func (l *ERC20Ledger) BurnFrom(ctx context.Context, spender, from common.Address, amount *big.Int) error {
	if err := l.checkIdentity(spender); err != nil {
		return err
	}

	// a revert only says "reverted", check the token's own conditions first
	if spender != from {
		allowance, err := l.Allowance(ctx, from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return token.ErrInsufficientAllowance
		}
	}
	balance, err := l.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return token.ErrInsufficientFunds
	}

	if spender == from {
		_, err = l.transact(ctx, "burn", amount)
	} else {
		_, err = l.transact(ctx, "burnFrom", from, amount)
	}
	return err
}

func (l *ERC20Ledger) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if err := l.checkIdentity(owner); err != nil {
		return err
	}
	_, err := l.transact(ctx, "approve", spender, amount)
	return err
}

// transact sends one contract call and waits until it is mined. Endpoints are
// rotated between attempts.
func (l *ERC20Ledger) transact(ctx context.Context, method string, args ...interface{}) (*ethtypes.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var reterr error
	for i := 0; i < l.retries; i++ {
		url := l.rpcList[i%len(l.rpcList)]
		receipt, err := l.transactOnce(ctx, url, method, args...)
		if err == nil {
			return receipt, nil
		}
		if errors.Is(err, ErrReverted) || ctx.Err() != nil {
			return nil, err
		}
		reterr = err
		l.log.Warn("contract call failed", "method", method, "attempt", i+1, "url", url, "error", err)
	}
	return nil, reterr
}

func (l *ERC20Ledger) transactOnce(ctx context.Context, url, method string, args ...interface{}) (*ethtypes.Receipt, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", url, err)
	}
	defer client.Close()

	nonce, err := client.PendingNonceAt(ctx, l.from)
	if err != nil {
		return nil, fmt.Errorf("error getting nonce for wallet: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting suggested gas price: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(l.key, new(big.Int).SetUint64(l.chainID))
	if err != nil {
		return nil, fmt.Errorf("error instantiating contract call: %w", err)
	}
	auth.Context = ctx
	auth.Nonce = new(big.Int).SetUint64(nonce)
	auth.Value = big.NewInt(0)
	auth.GasLimit = l.gasLimit
	if l.chainID == 1 {
		auth.GasPrice = gasPrice
	} else {
		auth.GasPrice = gasPrice.Mul(gasPrice, big.NewInt(2))
	}

	tx, err := l.contract(client).Transact(auth, method, args...)
	if err != nil {
		return nil, fmt.Errorf("error calling %s method: %w", method, err)
	}
	l.log.Info("transaction sent", "method", method, "tx", tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return nil, fmt.Errorf("error waiting for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s %s", ErrReverted, method, tx.Hash().Hex())
	}
	return receipt, nil
}
