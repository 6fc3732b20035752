package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wcoin-miner-bot/internal/event"
	"wcoin-miner-bot/internal/metrics"
	"wcoin-miner-bot/internal/model"
	"wcoin-miner-bot/internal/pkg/lock"
	"wcoin-miner-bot/internal/repository"
)

// Resolution is the outcome of an admin decision on an order. Lease is set
// only when a machine order was confirmed.
type Resolution struct {
	Order model.Order
	Lease *model.Lease
}

// OrderService implements the withdrawal queue and admin resolution of
// both order kinds.
type OrderService struct {
	users       repository.UserStore
	leases      repository.LeaseStore
	orders      repository.OrderStore
	ops         repository.OpLog
	locks       *lock.UserLock
	bus         *event.Bus
	eligibility *EligibilityEvaluator
	leaseSvc    *LeaseService
	admins      AdminSet
}

// NewOrderService creates a new OrderService.
func NewOrderService(
	users repository.UserStore,
	leases repository.LeaseStore,
	orders repository.OrderStore,
	ops repository.OpLog,
	locks *lock.UserLock,
	bus *event.Bus,
	eligibility *EligibilityEvaluator,
	leaseSvc *LeaseService,
	admins AdminSet,
) *OrderService {
	return &OrderService{
		users:       users,
		leases:      leases,
		orders:      orders,
		ops:         ops,
		locks:       locks,
		bus:         bus,
		eligibility: eligibility,
		leaseSvc:    leaseSvc,
		admins:      admins,
	}
}

// RequestWithdrawal reserves amount from the user's balance and queues a
// withdrawal order for admin resolution. The reservation is immediate: the
// balance drops when the order is accepted, not when it is confirmed, and
// a rejection does not restore it.
func (s *OrderService) RequestWithdrawal(ctx context.Context, userID int64, amount int64) (*model.Order, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount < s.eligibility.minWithdraw {
		return nil, ErrBelowMinWithdraw
	}

	var (
		order   *model.Order
		balance int64
	)

	err := s.locks.WithLock(userID, func() error {
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user.WithdrawAccount == nil || *user.WithdrawAccount == "" {
			return ErrWithdrawAccountMissing
		}
		if user.Balance < amount {
			return ErrInsufficientBalance
		}

		leases, err := s.leases.ListByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load leases: %w", err)
		}
		if ok, rule := Evaluate(user, leases, s.eligibility.minWithdraw, s.eligibility.referralThreshold, time.Now()); !ok {
			return &EligibilityError{Rule: rule}
		}

		order, err = s.orders.Create(ctx, &model.Order{
			UserID:  userID,
			Kind:    model.OrderKindWithdrawal,
			Status:  model.OrderAwaitingAdmin,
			Amount:  amount,
			Account: *user.WithdrawAccount,
		})
		if err != nil {
			if errors.Is(err, repository.ErrOrderConflict) {
				return ErrOrderPending
			}
			return fmt.Errorf("failed to create withdrawal order: %w", err)
		}

		user, err = s.users.UpdateBalance(ctx, userID, -amount)
		if err != nil {
			return fmt.Errorf("failed to reserve withdrawal amount: %w", err)
		}
		note := fmt.Sprintf("order %d", order.ID)
		_ = s.ops.Record(ctx, userID, -amount, model.OpTypeWithdrawReserve, &note)
		balance = user.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveWithdrawRequest()
	s.bus.Publish(event.BalanceChanged{
		UserID: userID, Delta: -amount, Balance: balance,
		Reason: model.OpTypeWithdrawReserve,
	})
	s.bus.Publish(event.OrderCreated{Order: *order})
	return order, nil
}

// ListPending returns the open orders of the kind awaiting an admin,
// oldest first. Orders still waiting for payment proof are included for
// the machine kind so admins can see stalled purchases.
func (s *OrderService) ListPending(ctx context.Context, kind model.OrderKind) ([]*model.Order, error) {
	return s.orders.ListPending(ctx, kind)
}

// Resolve applies an admin's terminal decision to an order. Confirming a
// machine order installs its lease; confirming a withdrawal records the
// payout. Rejection removes the order in both cases and never restores a
// withdrawal's reserved balance.
func (s *OrderService) Resolve(ctx context.Context, adminID, orderID int64, decision model.Decision) (*Resolution, error) {
	if !s.admins.Contains(adminID) {
		return nil, ErrNotAdmin
	}

	// Load once to learn whose lock to take, then reload under the lock.
	stub, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	var res Resolution
	err = s.locks.WithLock(stub.UserID, func() error {
		order, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}
		if order.Status != model.OrderAwaitingAdmin {
			return ErrOrderNotResolvable
		}
		res.Order = *order

		if order.Kind == model.OrderKindMachine && decision == model.DecisionConfirm {
			lease, err := s.leaseSvc.installFromOrder(ctx, order)
			if err != nil {
				return err
			}
			res.Lease = lease
			return nil
		}

		// Reject of either kind and confirm of a withdrawal just remove
		// the order; a withdrawal's reserved amount stays debited either way.
		if err := s.orders.Delete(ctx, order.ID); err != nil {
			return fmt.Errorf("failed to delete resolved order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveOrderResolved(string(res.Order.Kind), string(decision))
	s.bus.Publish(event.OrderResolved{
		Order:    res.Order,
		Decision: decision,
		AdminID:  adminID,
	})
	if res.Lease != nil {
		s.bus.Publish(event.LeaseInstalled{
			UserID:     res.Lease.UserID,
			MachineKey: res.Lease.MachineKey,
			Method:     res.Lease.PaymentMethod,
			ExpiresAt:  res.Lease.ExpiresAt,
		})
	}
	return &res, nil
}
