package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wcoin-miner-bot/internal/event"
	"wcoin-miner-bot/internal/machine"
	"wcoin-miner-bot/internal/metrics"
	"wcoin-miner-bot/internal/model"
	"wcoin-miner-bot/internal/pkg/lock"
	"wcoin-miner-bot/internal/repository"
)

// accruedYield returns the yield a claim on the lease would pay at now.
// Accrual is capped at one full claim interval, so a lease never pays more
// than half a day's yield per claim no matter how long it sat unclaimed.
func accruedYield(l *model.Lease, m machine.Type, now time.Time) int64 {
	elapsed := now.Sub(l.LastClaimAt)
	if elapsed <= 0 {
		return 0
	}
	if elapsed > machine.ClaimInterval {
		elapsed = machine.ClaimInterval
	}
	return int64(elapsed/time.Second) * m.DailyYield / 86400
}

// cooldownRemaining returns how long until the lease may be claimed, zero
// when a claim is allowed already.
func cooldownRemaining(l *model.Lease, now time.Time) time.Duration {
	remaining := machine.ClaimInterval - now.Sub(l.LastClaimAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func newLease(userID int64, key string, method model.PaymentMethod, now time.Time) *model.Lease {
	return &model.Lease{
		UserID:        userID,
		MachineKey:    key,
		PaymentMethod: method,
		PurchasedAt:   now,
		ExpiresAt:     now.Add(machine.LeaseDuration),
		LastClaimAt:   now,
	}
}

// PurchaseResult is the outcome of a purchase attempt: exactly one of
// Lease (balance-paid, installed immediately) or Order (transfer-paid,
// queued for proof and admin confirmation) is set.
type PurchaseResult struct {
	Lease *model.Lease
	Order *model.Order
}

// ClaimResult is the outcome of a successful yield claim.
type ClaimResult struct {
	Yield   int64
	Balance int64
	// NextClaimAt is when the lease may be claimed again.
	NextClaimAt time.Time
}

// LeaseService implements the machine-lease lifecycle: purchase, payment
// proof, yield claims and the install step of admin confirmation.
type LeaseService struct {
	users  repository.UserStore
	leases repository.LeaseStore
	orders repository.OrderStore
	ops    repository.OpLog
	locks  *lock.UserLock
	bus    *event.Bus
}

// NewLeaseService creates a new LeaseService.
func NewLeaseService(
	users repository.UserStore,
	leases repository.LeaseStore,
	orders repository.OrderStore,
	ops repository.OpLog,
	locks *lock.UserLock,
	bus *event.Bus,
) *LeaseService {
	return &LeaseService{
		users:  users,
		leases: leases,
		orders: orders,
		ops:    ops,
		locks:  locks,
		bus:    bus,
	}
}

// Purchase starts a machine purchase. A balance-paid purchase debits the
// price and installs the lease atomically; a transfer-paid purchase queues
// an order that waits for payment proof. A user may not buy a machine they
// already hold an active lease of, nor buy anything while they have an open
// order of either kind.
func (s *LeaseService) Purchase(ctx context.Context, userID int64, machineKey string, method model.PaymentMethod) (*PurchaseResult, error) {
	m, err := machine.Lookup(machineKey)
	if err != nil {
		return nil, err
	}
	if method == model.PayBalance && !m.PayableFromBalance() {
		return nil, ErrNotPayableFromBalance
	}

	var (
		result  PurchaseResult
		balance int64
		debited int64
	)

	err = s.locks.WithLock(userID, func() error {
		now := time.Now()

		// One open order per user, regardless of payment method.
		if _, err := s.orders.GetByUser(ctx, userID); err == nil {
			return ErrOrderPending
		} else if !errors.Is(err, repository.ErrOrderNotFound) {
			return fmt.Errorf("failed to check pending order: %w", err)
		}

		latest, err := s.leases.LatestByUserAndMachine(ctx, userID, machineKey)
		switch {
		case err == nil:
			if !latest.Expired(now) {
				return ErrDuplicateLease
			}
		case errors.Is(err, repository.ErrLeaseNotFound):
		default:
			return fmt.Errorf("failed to check existing lease: %w", err)
		}

		if method == model.PayTransfer {
			order, err := s.orders.Create(ctx, &model.Order{
				UserID:        userID,
				Kind:          model.OrderKindMachine,
				Status:        model.OrderAwaitingProof,
				MachineKey:    machineKey,
				PaymentMethod: model.PayTransfer,
				Amount:        m.FiatPrice,
			})
			if err != nil {
				if errors.Is(err, repository.ErrOrderConflict) {
					return ErrOrderPending
				}
				return fmt.Errorf("failed to create purchase order: %w", err)
			}
			result.Order = order
			return nil
		}

		price := m.Price(model.PayBalance)
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user.Balance < price {
			return ErrInsufficientBalance
		}
		if price > 0 {
			user, err = s.users.UpdateBalance(ctx, userID, -price)
			if err != nil {
				return fmt.Errorf("failed to debit purchase: %w", err)
			}
			note := fmt.Sprintf("machine %s", machineKey)
			_ = s.ops.Record(ctx, userID, -price, model.OpTypeMachinePurchase, &note)
		}

		lease, err := s.leases.Install(ctx, newLease(userID, machineKey, model.PayBalance, now))
		if err != nil {
			return fmt.Errorf("failed to install lease: %w", err)
		}
		result.Lease = lease
		balance = user.Balance
		debited = price
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Order != nil {
		metrics.ObservePurchase(string(model.PayTransfer), "order_created")
		s.bus.Publish(event.OrderCreated{Order: *result.Order})
		return &result, nil
	}

	metrics.ObservePurchase(string(model.PayBalance), "installed")
	if debited > 0 {
		s.bus.Publish(event.BalanceChanged{
			UserID: userID, Delta: -debited, Balance: balance,
			Reason: model.OpTypeMachinePurchase,
		})
	}
	s.bus.Publish(event.LeaseInstalled{
		UserID:     userID,
		MachineKey: result.Lease.MachineKey,
		Method:     result.Lease.PaymentMethod,
		ExpiresAt:  result.Lease.ExpiresAt,
	})
	return &result, nil
}

// SubmitProof attaches the transfer reference and receipt to the user's
// open machine order and moves it to the admin queue. Both pieces are
// required.
func (s *LeaseService) SubmitProof(ctx context.Context, userID int64, transferNo, receiptRef string) (*model.Order, error) {
	transferNo = strings.TrimSpace(transferNo)
	receiptRef = strings.TrimSpace(receiptRef)
	if transferNo == "" || receiptRef == "" {
		return nil, ErrProofIncomplete
	}

	var order *model.Order
	err := s.locks.WithLock(userID, func() error {
		var err error
		order, err = s.orders.GetByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load pending order: %w", err)
		}
		if order.Kind != model.OrderKindMachine || order.Status != model.OrderAwaitingProof {
			return ErrOrderNotResolvable
		}

		if err := s.orders.SetProof(ctx, order.ID, transferNo, receiptRef, model.OrderAwaitingAdmin); err != nil {
			return fmt.Errorf("failed to store proof: %w", err)
		}
		order.TransferNo = transferNo
		order.ReceiptRef = receiptRef
		order.Status = model.OrderAwaitingAdmin
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(event.ProofSubmitted{Order: *order})
	return order, nil
}

// CancelOrder withdraws the user's open machine order. Only an order still
// waiting for proof can be cancelled; once it reaches the admin queue only
// an admin decision terminates it.
func (s *LeaseService) CancelOrder(ctx context.Context, userID int64) error {
	return s.locks.WithLock(userID, func() error {
		order, err := s.orders.GetByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load pending order: %w", err)
		}
		if order.Kind != model.OrderKindMachine || order.Status != model.OrderAwaitingProof {
			return ErrOrderNotResolvable
		}
		if err := s.orders.Delete(ctx, order.ID); err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		return nil
	})
}

// Claim pays out the yield accrued on the user's lease of the machine.
// Claims are allowed once per claim interval; accrual caps at one interval,
// so the claim timer effectively resets on every claim.
func (s *LeaseService) Claim(ctx context.Context, userID int64, machineKey string) (*ClaimResult, error) {
	m, err := machine.Lookup(machineKey)
	if err != nil {
		return nil, err
	}

	var result ClaimResult
	err = s.locks.WithLock(userID, func() error {
		lease, err := s.leases.LatestByUserAndMachine(ctx, userID, machineKey)
		if err != nil {
			return fmt.Errorf("failed to load lease: %w", err)
		}

		now := time.Now()
		if lease.Expired(now) {
			return ErrLeaseExpired
		}
		if remaining := cooldownRemaining(lease, now); remaining > 0 {
			return &CooldownError{Remaining: remaining}
		}

		yield := accruedYield(lease, m, now)
		if err := s.leases.UpdateLastClaim(ctx, lease.ID, now); err != nil {
			return fmt.Errorf("failed to update claim time: %w", err)
		}
		user, err := s.users.UpdateBalance(ctx, userID, yield)
		if err != nil {
			return fmt.Errorf("failed to credit claim: %w", err)
		}
		note := fmt.Sprintf("machine %s", machineKey)
		_ = s.ops.Record(ctx, userID, yield, model.OpTypeClaim, &note)

		result = ClaimResult{
			Yield:       yield,
			Balance:     user.Balance,
			NextClaimAt: now.Add(machine.ClaimInterval),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveClaim(result.Yield)
	s.bus.Publish(event.BalanceChanged{
		UserID: userID, Delta: result.Yield, Balance: result.Balance,
		Reason: model.OpTypeClaim,
	})
	return &result, nil
}

// installFromOrder installs the lease a confirmed transfer order paid for
// and removes the order. The caller holds the user's lock.
func (s *LeaseService) installFromOrder(ctx context.Context, o *model.Order) (*model.Lease, error) {
	now := time.Now()

	latest, err := s.leases.LatestByUserAndMachine(ctx, o.UserID, o.MachineKey)
	switch {
	case err == nil:
		if !latest.Expired(now) {
			return nil, ErrDuplicateLease
		}
	case errors.Is(err, repository.ErrLeaseNotFound):
	default:
		return nil, fmt.Errorf("failed to check existing lease: %w", err)
	}

	lease, err := s.leases.Install(ctx, newLease(o.UserID, o.MachineKey, model.PayTransfer, now))
	if err != nil {
		return nil, fmt.Errorf("failed to install lease: %w", err)
	}
	if err := s.orders.Delete(ctx, o.ID); err != nil {
		return nil, fmt.Errorf("failed to delete confirmed order: %w", err)
	}
	return lease, nil
}
