package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"mabridge/ledger"
	"mabridge/logger"
	"mabridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gomodule/redigo/redis"
)

// optimistic transactions give up after this many WATCH conflicts
const maxTxRetries = 64

var errTxConflict = errors.New("redis transaction kept conflicting")

// Store keeps the state of one bridge instance under bridge:<chainId>:*
//
//	consumed        hash  nonce -> 1
//	lastNonce       string
//	swaps           hash  nonce -> SwapInitialized JSON
//	swapIndex       zset  nonce scored by nonce
//	redemptions     hash  nonce -> RedemptionCompleted JSON
//	validator       string
//	validatorEvents list  ValidatorChanged JSON
type Store struct {
	pool    *redis.Pool
	chainID uint64
	log     logger.Logger
}

var _ ledger.Store = (*Store)(nil)

func NewStore(pool *redis.Pool, chainID uint64, lg logger.Logger) *Store {
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Store{pool: pool, chainID: chainID, log: lg.With("chainId", chainID)}
}

func (s *Store) key(name string) string {
	return fmt.Sprintf("bridge:%d:%s", s.chainID, name)
}

func (s *Store) conn(ctx context.Context) (redis.Conn, error) {
	return s.pool.GetContext(ctx)
}

func (s *Store) IsConsumed(ctx context.Context, nonce uint64) (bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	consumed, err := redis.Bool(conn.Do("HEXISTS", s.key("consumed"), nonce))
	if err != nil {
		s.log.Error("error Redis HEXISTS", "error", err)
		return false, err
	}
	return consumed, nil
}

func (s *Store) MarkConsumed(ctx context.Context, nonce uint64) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	set, err := redis.Int(conn.Do("HSETNX", s.key("consumed"), nonce, 1))
	if err != nil {
		s.log.Error("error Redis HSETNX", "error", err)
		return err
	}
	if set == 0 {
		return ledger.ErrAlreadyConsumed
	}
	return nil
}

func (s *Store) Release(ctx context.Context, nonce uint64) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("HDEL", s.key("consumed"), nonce)
	return err
}

func (s *Store) Validator(ctx context.Context) (common.Address, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return common.Address{}, err
	}
	defer conn.Close()

	return getValidator(conn, s.key("validator"))
}

func getValidator(conn redis.Conn, key string) (common.Address, error) {
	hex, err := redis.String(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return common.Address{}, nil
	}
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(hex), nil
}

func (s *Store) SetValidator(ctx context.Context, validator common.Address, timestamp int64) (types.ValidatorChanged, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return types.ValidatorChanged{}, err
	}
	defer conn.Close()

	key := s.key("validator")
	for i := 0; i < maxTxRetries; i++ {
		if _, err := conn.Do("WATCH", key); err != nil {
			return types.ValidatorChanged{}, err
		}
		previous, err := getValidator(conn, key)
		if err != nil {
			conn.Do("UNWATCH")
			return types.ValidatorChanged{}, err
		}

		ev := types.ValidatorChanged{Previous: previous, Current: validator, Timestamp: timestamp}
		evJSON, err := json.Marshal(ev)
		if err != nil {
			conn.Do("UNWATCH")
			return types.ValidatorChanged{}, fmt.Errorf("cannot marshal validator change to JSON: %s", err.Error())
		}

		conn.Send("MULTI")
		conn.Send("SET", key, validator.Hex())
		conn.Send("RPUSH", s.key("validatorEvents"), evJSON)
		reply, err := conn.Do("EXEC")
		if err != nil {
			s.log.Error("error Redis EXEC", "error", err)
			return types.ValidatorChanged{}, err
		}
		if reply != nil {
			return ev, nil
		}
	}
	return types.ValidatorChanged{}, errTxConflict
}

func (s *Store) RecordSwap(ctx context.Context, ev *types.SwapInitialized) error {
	if ev == nil {
		return errors.New("null object to store")
	}

	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	lastKey := s.key("lastNonce")
	for i := 0; i < maxTxRetries; i++ {
		if _, err := conn.Do("WATCH", lastKey); err != nil {
			return err
		}
		last, err := getLastNonce(conn, lastKey)
		if err != nil {
			conn.Do("UNWATCH")
			return err
		}

		ev.Nonce = last + 1
		evJSON, err := json.Marshal(ev)
		if err != nil {
			conn.Do("UNWATCH")
			ev.Nonce = 0
			return fmt.Errorf("cannot marshal swap event to JSON: %s", err.Error())
		}

		conn.Send("MULTI")
		conn.Send("SET", lastKey, ev.Nonce)
		conn.Send("HSET", s.key("swaps"), ev.Nonce, evJSON)
		conn.Send("ZADD", s.key("swapIndex"), ev.Nonce, ev.Nonce)
		reply, err := conn.Do("EXEC")
		if err != nil {
			s.log.Error("error Redis EXEC", "error", err)
			ev.Nonce = 0
			return err
		}
		if reply != nil {
			return nil
		}
	}
	ev.Nonce = 0
	return errTxConflict
}

func getLastNonce(conn redis.Conn, key string) (uint64, error) {
	last, err := redis.Uint64(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return ledger.FirstNonce - 1, nil
	}
	return last, err
}

func (s *Store) SwapEvent(ctx context.Context, nonce uint64) (*types.SwapInitialized, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("HGET", s.key("swaps"), nonce))
	if errors.Is(err, redis.ErrNil) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var ev types.SwapInitialized
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Store) SwapsSince(ctx context.Context, after uint64, limit int) ([]*types.SwapInitialized, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	args := redis.Args{}.Add(s.key("swapIndex"), "("+strconv.FormatUint(after, 10), "+inf")
	if limit > 0 {
		args = args.Add("LIMIT", 0, limit)
	}
	nonces, err := redis.Strings(conn.Do("ZRANGEBYSCORE", args...))
	if err != nil {
		return nil, err
	}

	evs := make([]*types.SwapInitialized, 0, len(nonces))
	if len(nonces) == 0 {
		return evs, nil
	}

	records, err := redis.ByteSlices(conn.Do("HMGET", redis.Args{}.Add(s.key("swaps")).AddFlat(nonces)...))
	if err != nil {
		return nil, err
	}
	for i, data := range records {
		if data == nil {
			s.log.Warn("swap index points to a missing event", "nonce", nonces[i])
			continue
		}
		var ev types.SwapInitialized
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		evs = append(evs, &ev)
	}
	return evs, nil
}

func (s *Store) LastNonce(ctx context.Context) (uint64, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	return getLastNonce(conn, s.key("lastNonce"))
}

func (s *Store) RecordRedemption(ctx context.Context, ev *types.RedemptionCompleted) error {
	if ev == nil {
		return errors.New("null object to store")
	}

	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	evJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("cannot marshal redemption to JSON: %s", err.Error())
	}

	_, err = conn.Do("HSET", s.key("redemptions"), ev.Nonce, evJSON)
	if err != nil {
		s.log.Error("error Redis HSET", "error", err)
		return err
	}
	return nil
}

func (s *Store) Redemption(ctx context.Context, nonce uint64) (*types.RedemptionCompleted, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("HGET", s.key("redemptions"), nonce))
	if errors.Is(err, redis.ErrNil) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var ev types.RedemptionCompleted
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Store) ValidatorEvents(ctx context.Context) ([]types.ValidatorChanged, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	records, err := redis.ByteSlices(conn.Do("LRANGE", s.key("validatorEvents"), 0, -1))
	if err != nil {
		return nil, err
	}

	evs := make([]types.ValidatorChanged, 0, len(records))
	for _, data := range records {
		var ev types.ValidatorChanged
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}
