package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/git-yup-ai/sim/internal/v1/metrics"
	"github.com/git-yup-ai/sim/internal/v1/types"
)

// Key schema shared with the application tier. The broker reads and rewrites
// these documents but never invents new keys.
const (
	workflowStateKeyFmt = "workflow:state:%s"
	workflowMetaKeyFmt  = "workflow:meta:%s"
	permissionKeyFmt    = "perm:%s:%s" // perm:{workspaceId}:{userId}

	// mutateMaxRetries bounds the optimistic-transaction retry loop.
	mutateMaxRetries = 5
)

func stateKey(id types.WorkflowIDType) string {
	return fmt.Sprintf(workflowStateKeyFmt, id)
}

func metaKey(id types.WorkflowIDType) string {
	return fmt.Sprintf(workflowMetaKeyFmt, id)
}

func permKey(workspaceID types.WorkspaceIDType, userID types.UserIDType) string {
	return fmt.Sprintf(permissionKeyFmt, workspaceID, userID)
}

// Service is the Redis-backed implementation of WorkflowStore and
// PermissionStore.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

var _ WorkflowStore = (*Service)(nil)
var _ PermissionStore = (*Service)(nil)

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a robust Redis connection with an immediate
// connectivity check.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info(context.Background(), "Connected to Redis store", zap.String("addr", addr))
	return NewServiceWithClient(rdb), nil
}

// NewServiceWithClient wraps an existing client. Used by tests with miniredis.
func NewServiceWithClient(rdb *redis.Client) *Service {
	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
		// A missing document is an answer, not a Redis fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	}

	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}
}

// GetState implements WorkflowStore.
func (s *Service) GetState(ctx context.Context, id types.WorkflowIDType) (*types.WorkflowState, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		raw, err := s.client.Get(ctx, stateKey(id)).Bytes()
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		logging.Error(ctx, "Redis GetState failed", zap.String("workflow_id", string(id)), zap.Error(err))
		return nil, err
	}

	var state types.WorkflowState
	if err := json.Unmarshal(res.([]byte), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}
	return &state, nil
}

// ReplaceState implements WorkflowStore. The full document is overwritten,
// so callers are expected to hold the room's pipeline serialization.
func (s *Service) ReplaceState(ctx context.Context, id types.WorkflowIDType, state *types.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	if err := s.client.Set(ctx, stateKey(id), data, 0).Err(); err != nil {
		logging.Error(ctx, "Redis ReplaceState failed", zap.String("workflow_id", string(id)), zap.Error(err))
		return err
	}
	return nil
}

// Mutate implements WorkflowStore. The read-modify-write runs under WATCH so
// a concurrent writer aborts the transaction instead of being overwritten.
// Mutator errors (semantic conflicts) propagate unchanged and deliberately
// bypass the circuit breaker: a rejected edit is not a Redis fault.
func (s *Service) Mutate(ctx context.Context, id types.WorkflowIDType, fn func(*types.WorkflowState) error) (*types.WorkflowState, error) {
	key := stateKey(id)
	var committed *types.WorkflowState

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var state types.WorkflowState
		if err := json.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("failed to unmarshal workflow state: %w", err)
		}

		if err := fn(&state); err != nil {
			return err
		}

		data, err := json.Marshal(&state)
		if err != nil {
			return fmt.Errorf("failed to marshal workflow state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}

		committed = &state
		return nil
	}

	for i := 0; i < mutateMaxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return committed, nil
		}
		if err == redis.TxFailedErr {
			continue // Lost the race with a concurrent writer, retry
		}
		return nil, err
	}

	logging.Warn(ctx, "Redis Mutate exhausted retries", zap.String("workflow_id", string(id)))
	return nil, ErrTxContention
}

// GetMeta implements WorkflowStore.
func (s *Service) GetMeta(ctx context.Context, id types.WorkflowIDType) (*types.WorkflowMeta, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		raw, err := s.client.Get(ctx, metaKey(id)).Bytes()
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		logging.Error(ctx, "Redis GetMeta failed", zap.String("workflow_id", string(id)), zap.Error(err))
		return nil, err
	}

	var meta types.WorkflowMeta
	if err := json.Unmarshal(res.([]byte), &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow meta: %w", err)
	}
	return &meta, nil
}

// Exists implements WorkflowStore.
func (s *Service) Exists(ctx context.Context, id types.WorkflowIDType) (bool, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		n, err := s.client.Exists(ctx, stateKey(id)).Result()
		if err != nil {
			return nil, err
		}
		return n > 0, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return false, err
	}
	return res.(bool), nil
}

// WorkspaceRole implements PermissionStore.
func (s *Service) WorkspaceRole(ctx context.Context, userID types.UserIDType, workspaceID types.WorkspaceIDType) (types.RoleType, bool, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		role, err := s.client.Get(ctx, permKey(workspaceID, userID)).Result()
		if err == redis.Nil {
			return "", nil
		}
		if err != nil {
			return nil, err
		}
		return role, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		logging.Error(ctx, "Redis WorkspaceRole failed",
			zap.String("user_id", string(userID)),
			zap.String("workspace_id", string(workspaceID)),
			zap.Error(err))
		return types.RoleTypeNone, false, err
	}

	role := types.RoleType(res.(string))
	if !role.Valid() {
		return types.RoleTypeNone, false, nil
	}
	return role, true, nil
}

// Ping checks Redis connectivity. Used by readiness probes.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
