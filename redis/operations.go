package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mabridge/ledger"
	"mabridge/logger"
	"mabridge/types"

	"github.com/gomodule/redigo/redis"
)

const operationIndexKey = "bridgeops:index"

// OperationStore keeps relay operations as bridgeop:<status>:<id> records,
// each listed in the bridgeops:<status> set of its status
type OperationStore struct {
	pool *redis.Pool
	log  logger.Logger
}

var _ ledger.OperationStore = (*OperationStore)(nil)

func NewOperationStore(pool *redis.Pool, lg logger.Logger) *OperationStore {
	if lg == nil {
		lg = logger.NewNop()
	}
	return &OperationStore{pool: pool, log: lg}
}

func statusSetKey(status string) string {
	return "bridgeops:" + status
}

func recordKey(status, id string) string {
	return fmt.Sprintf("bridgeop:%s:%s", status, id)
}

func indexField(sourceChain, nonce uint64) string {
	return fmt.Sprintf("%d:%d", sourceChain, nonce)
}

// statusOfKey extracts the status part of a bridgeop:<status>:<id> key
func statusOfKey(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// note that multiple sets should not contain one operation
func (s *OperationStore) UpsertOperation(ctx context.Context, op *types.BridgeOperation) error {
	if err := ledger.ValidateOperation(op); err != nil {
		return err
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	key := recordKey(op.Status, op.ID)
	opJSON, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("cannot marshal bridge operation to JSON: %s", err.Error())
	}

	field := indexField(op.SourceChain, op.Nonce)
	prevKey, err := redis.String(conn.Do("HGET", operationIndexKey, field))
	if err != nil && !errors.Is(err, redis.ErrNil) {
		s.log.Error("error Redis HGET", "error", err)
		return err
	}

	conn.Send("MULTI")
	if prevKey != "" && prevKey != key {
		conn.Send("SREM", statusSetKey(statusOfKey(prevKey)), prevKey)
		conn.Send("DEL", prevKey)
	}
	conn.Send("SET", key, opJSON)
	// also add the key to the corresponding SET
	conn.Send("SADD", statusSetKey(op.Status), key)
	conn.Send("HSET", operationIndexKey, field, key)
	if _, err := conn.Do("EXEC"); err != nil {
		s.log.Error("error Redis EXEC", "error", err)
		return err
	}
	return nil
}

func (s *OperationStore) ChangeOperationStatus(ctx context.Context, op *types.BridgeOperation, prevStatus string) error {
	if err := ledger.ValidateOperation(op); err != nil {
		return err
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	prevRecordKey := recordKey(prevStatus, op.ID)
	key := recordKey(op.Status, op.ID)

	opJSON, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("cannot marshal bridge operation to JSON: %s", err.Error())
	}

	if _, err := conn.Do("WATCH", prevRecordKey); err != nil {
		return err
	}
	exists, err := redis.Bool(conn.Do("EXISTS", prevRecordKey))
	if err != nil {
		conn.Do("UNWATCH")
		return err
	}
	if !exists {
		conn.Do("UNWATCH")
		return fmt.Errorf("bridge operation %s has no %s record", op.ID, prevStatus)
	}

	conn.Send("MULTI")
	conn.Send("SREM", statusSetKey(prevStatus), prevRecordKey)
	conn.Send("DEL", prevRecordKey)
	conn.Send("SET", key, opJSON)
	conn.Send("SADD", statusSetKey(op.Status), key)
	conn.Send("HSET", operationIndexKey, indexField(op.SourceChain, op.Nonce), key)
	reply, err := conn.Do("EXEC")
	if err != nil {
		s.log.Error("error Redis EXEC", "error", err)
		return err
	}
	if reply == nil {
		return fmt.Errorf("bridge operation %s changed concurrently", op.ID)
	}
	return nil
}

func (s *OperationStore) FindOperation(ctx context.Context, sourceChain, nonce uint64) (*types.BridgeOperation, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	key, err := redis.String(conn.Do("HGET", operationIndexKey, indexField(sourceChain, nonce)))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return getOperation(conn, key)
}

func getOperation(conn redis.Conn, key string) (*types.BridgeOperation, error) {
	data, err := redis.Bytes(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var op types.BridgeOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *OperationStore) FindOperationsByStatus(ctx context.Context, status string) ([]*types.BridgeOperation, error) {
	if !types.IsOpStatus(status) {
		return nil, errors.New("redis key not found for status")
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ops := make([]*types.BridgeOperation, 0)

	// scan every operation present in the status set
	var cursor int64
	for {
		values, err := redis.Values(conn.Do("SSCAN", statusSetKey(status), cursor))
		if err != nil {
			return nil, err
		}

		var opKeys []string
		if _, err := redis.Scan(values, &cursor, &opKeys); err != nil {
			return nil, err
		}

		for _, key := range opKeys {
			op, err := getOperation(conn, key)
			if err != nil {
				s.log.Error("error Redis GET", "key", key, "error", err)
				return nil, err
			}
			if op == nil {
				s.log.Warn("status set lists a missing operation", "key", key)
				continue
			}
			if op.Status == status {
				ops = append(ops, op)
			}
		}

		if cursor == 0 {
			break
		}
	}

	return ops, nil
}

func (s *OperationStore) ScannedNonce(ctx context.Context, chainID uint64) (uint64, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	nonce, err := redis.Uint64(conn.Do("GET", fmt.Sprintf("chainNonceScanned:%d", chainID)))
	if errors.Is(err, redis.ErrNil) {
		return 0, nil
	}
	if err != nil {
		s.log.Error("error Redis get", "error", err)
		return 0, err
	}
	return nonce, nil
}

func (s *OperationStore) SetScannedNonce(ctx context.Context, chainID uint64, nonce uint64) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("SET", fmt.Sprintf("chainNonceScanned:%d", chainID), nonce)
	if err != nil {
		s.log.Error("error Redis set", "error", err)
		return err
	}
	return nil
}
