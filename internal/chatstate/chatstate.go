// Package chatstate tracks where each user is inside a multi-step chat
// flow. State lives in Redis with a TTL, so an abandoned flow clears
// itself and a bot restart does not orphan users mid-conversation.
package chatstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Step names the point of a chat flow the next incoming message belongs to.
type Step string

const (
	// StepNone: no flow in progress, messages are handled as commands.
	StepNone Step = ""
	// StepAwaitTransferNo: the user owes the transfer reference for their
	// open machine order.
	StepAwaitTransferNo Step = "await_transfer_no"
	// StepAwaitReceipt: the user owes the receipt photo.
	StepAwaitReceipt Step = "await_receipt"
	// StepAwaitWithdrawAccount: the user is entering their payout account.
	StepAwaitWithdrawAccount Step = "await_withdraw_account"
	// StepAwaitWithdrawAmount: the user is entering a withdrawal amount.
	StepAwaitWithdrawAmount Step = "await_withdraw_amount"
)

// State is the current step plus the data collected so far in the flow.
type State struct {
	Step    Step
	Payload string
}

// defaultTTL bounds how long an abandoned flow lingers.
const defaultTTL = 30 * time.Minute

// Store reads and writes per-user chat state.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a Store over the Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ttl: defaultTTL}
}

func key(userID int64) string {
	return fmt.Sprintf("chatstate:%d", userID)
}

// Get returns the user's current state. A user with no stored state is at
// StepNone.
func (s *Store) Get(ctx context.Context, userID int64) (State, error) {
	vals, err := s.rdb.HGetAll(ctx, key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read chat state: %w", err)
	}
	if len(vals) == 0 {
		return State{}, nil
	}
	return State{Step: Step(vals["step"]), Payload: vals["payload"]}, nil
}

// Set stores the user's state and refreshes its TTL.
func (s *Store) Set(ctx context.Context, userID int64, state State) error {
	k := key(userID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, k, "step", string(state.Step), "payload", state.Payload)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store chat state: %w", err)
	}
	return nil
}

// Clear drops the user's state, returning them to StepNone.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear chat state: %w", err)
	}
	return nil
}
