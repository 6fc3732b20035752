// Package memory provides an in-memory implementation of the repository
// stores, keyed by user id and order id. It backs the service unit tests
// and mirrors the Postgres semantics, including the strictly increasing
// order id sequence and the one-open-order-per-user constraint.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"wcoin-miner-bot/internal/model"
	"wcoin-miner-bot/internal/repository"
)

// Store bundles the four stores over a single guarded state, so the
// facets observe each other's writes the way the Postgres tables do.
type Store struct {
	state *state
}

type state struct {
	mu sync.RWMutex

	users        map[int64]*model.User
	leases       map[int64]*model.Lease
	orders       map[int64]*model.Order
	ordersByUser map[int64]int64
	ops          []*model.Operation

	leaseSeq int64
	orderSeq int64
	opSeq    int64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{state: &state{
		users:        make(map[int64]*model.User),
		leases:       make(map[int64]*model.Lease),
		orders:       make(map[int64]*model.Order),
		ordersByUser: make(map[int64]int64),
	}}
}

// Users returns the UserStore facet.
func (s *Store) Users() repository.UserStore { return &users{s.state} }

// Leases returns the LeaseStore facet.
func (s *Store) Leases() repository.LeaseStore { return &leases{s.state} }

// Orders returns the OrderStore facet.
func (s *Store) Orders() repository.OrderStore { return &orders{s.state} }

// OpLog returns the operation log facet.
func (s *Store) OpLog() repository.OpLog { return &oplog{s.state} }

func copyUser(u *model.User) *model.User {
	c := *u
	if u.ReferredBy != nil {
		v := *u.ReferredBy
		c.ReferredBy = &v
	}
	if u.WithdrawAccount != nil {
		v := *u.WithdrawAccount
		c.WithdrawAccount = &v
	}
	return &c
}

func copyLease(l *model.Lease) *model.Lease {
	c := *l
	return &c
}

func copyOrder(o *model.Order) *model.Order {
	c := *o
	return &c
}

// ---- UserStore ----

type users struct{ st *state }

func (r *users) Create(_ context.Context, telegramID int64, username string, initialBalance int64) (*model.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	now := time.Now()
	u := &model.User{
		TelegramID: telegramID,
		Username:   username,
		Balance:    initialBalance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.st.users[telegramID] = u
	return copyUser(u), nil
}

func (r *users) GetByID(_ context.Context, telegramID int64) (*model.User, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	u, ok := r.st.users[telegramID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (r *users) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	for _, u := range r.st.users {
		if strings.EqualFold(u.Username, username) {
			return copyUser(u), nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *users) GetOrCreate(_ context.Context, telegramID int64, username string, initialBalance int64) (*model.User, bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if u, ok := r.st.users[telegramID]; ok {
		return copyUser(u), false, nil
	}

	now := time.Now()
	u := &model.User{
		TelegramID: telegramID,
		Username:   username,
		Balance:    initialBalance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.st.users[telegramID] = u
	return copyUser(u), true, nil
}

func (r *users) UpdateUsername(_ context.Context, telegramID int64, username string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	u, ok := r.st.users[telegramID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.Username = username
	u.UpdatedAt = time.Now()
	return nil
}

func (r *users) UpdateBalance(_ context.Context, telegramID int64, delta int64) (*model.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	u, ok := r.st.users[telegramID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	// Same floor the balance CHECK constraint enforces in Postgres.
	if u.Balance+delta < 0 {
		return nil, errors.New("failed to update balance: balance would drop below zero")
	}
	u.Balance += delta
	u.UpdatedAt = time.Now()
	return copyUser(u), nil
}

func (r *users) SetReferredBy(_ context.Context, telegramID, referrerID int64) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	u, ok := r.st.users[telegramID]
	if !ok {
		return repository.ErrUserNotFound
	}
	if u.ReferredBy == nil {
		ref := referrerID
		u.ReferredBy = &ref
		u.UpdatedAt = time.Now()
	}
	return nil
}

func (r *users) CreditReferral(_ context.Context, telegramID int64, bonus int64) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	u, ok := r.st.users[telegramID]
	if !ok {
		return false, repository.ErrUserNotFound
	}
	if u.ReferralCredited {
		return false, nil
	}
	u.Balance += bonus
	u.ReferralCredited = true
	u.UpdatedAt = time.Now()
	return true, nil
}

func (r *users) AddReferral(_ context.Context, referrerID int64, bonus int64) (*model.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	u, ok := r.st.users[referrerID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u.Balance += bonus
	u.Referrals++
	u.UpdatedAt = time.Now()
	return copyUser(u), nil
}

func (r *users) SetWithdrawAccount(_ context.Context, telegramID int64, account string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	u, ok := r.st.users[telegramID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.WithdrawAccount = &account
	u.UpdatedAt = time.Now()
	return nil
}

func (r *users) SetSkipVerified(_ context.Context, telegramID int64) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	u, ok := r.st.users[telegramID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.SkipVerified = true
	u.UpdatedAt = time.Now()
	return nil
}

func (r *users) TopByBalance(_ context.Context, limit int) ([]*model.User, error) {
	return r.top(limit, func(a, b *model.User) bool { return a.Balance > b.Balance })
}

func (r *users) TopByReferrals(_ context.Context, limit int) ([]*model.User, error) {
	return r.top(limit, func(a, b *model.User) bool { return a.Referrals > b.Referrals })
}

func (r *users) top(limit int, more func(a, b *model.User) bool) ([]*model.User, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	all := make([]*model.User, 0, len(r.st.users))
	for _, u := range r.st.users {
		all = append(all, copyUser(u))
	}
	sort.Slice(all, func(i, j int) bool { return more(all[i], all[j]) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *users) Count(_ context.Context) (int64, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	return int64(len(r.st.users)), nil
}

// ---- LeaseStore ----

type leases struct{ st *state }

func (r *leases) Install(_ context.Context, lease *model.Lease) (*model.Lease, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	r.st.leaseSeq++
	c := copyLease(lease)
	c.ID = r.st.leaseSeq
	r.st.leases[c.ID] = c
	return copyLease(c), nil
}

func (r *leases) LatestByUserAndMachine(_ context.Context, userID int64, machineKey string) (*model.Lease, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var latest *model.Lease
	for _, l := range r.st.leases {
		if l.UserID != userID || l.MachineKey != machineKey {
			continue
		}
		if latest == nil || l.ExpiresAt.After(latest.ExpiresAt) {
			latest = l
		}
	}
	if latest == nil {
		return nil, repository.ErrLeaseNotFound
	}
	return copyLease(latest), nil
}

func (r *leases) ListByUser(_ context.Context, userID int64) ([]*model.Lease, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var out []*model.Lease
	for _, l := range r.st.leases {
		if l.UserID == userID {
			out = append(out, copyLease(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.After(out[j].PurchasedAt) })
	return out, nil
}

func (r *leases) UpdateLastClaim(_ context.Context, leaseID int64, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	l, ok := r.st.leases[leaseID]
	if !ok {
		return repository.ErrLeaseNotFound
	}
	l.LastClaimAt = at
	return nil
}

func (r *leases) ActiveOwners(_ context.Context, machineKey string, now time.Time) ([]*model.User, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	seen := make(map[int64]bool)
	var owners []*model.User
	for _, l := range r.st.leases {
		if l.MachineKey != machineKey || l.Expired(now) || seen[l.UserID] {
			continue
		}
		if u, ok := r.st.users[l.UserID]; ok {
			owners = append(owners, copyUser(u))
			seen[l.UserID] = true
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].TelegramID < owners[j].TelegramID })
	return owners, nil
}

// ---- OrderStore ----

type orders struct{ st *state }

func (r *orders) Create(_ context.Context, o *model.Order) (*model.Order, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if _, exists := r.st.ordersByUser[o.UserID]; exists {
		return nil, repository.ErrOrderConflict
	}

	r.st.orderSeq++
	c := copyOrder(o)
	c.ID = r.st.orderSeq
	c.CreatedAt = time.Now()
	r.st.orders[c.ID] = c
	r.st.ordersByUser[c.UserID] = c.ID
	return copyOrder(c), nil
}

func (r *orders) GetByID(_ context.Context, id int64) (*model.Order, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	o, ok := r.st.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (r *orders) GetByUser(_ context.Context, userID int64) (*model.Order, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	id, ok := r.st.ordersByUser[userID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return copyOrder(r.st.orders[id]), nil
}

func (r *orders) SetProof(_ context.Context, id int64, transferNo, receiptRef string, status model.OrderStatus) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	o, ok := r.st.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.TransferNo = transferNo
	o.ReceiptRef = receiptRef
	o.Status = status
	return nil
}

func (r *orders) ListPending(_ context.Context, kind model.OrderKind) ([]*model.Order, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var out []*model.Order
	for _, o := range r.st.orders {
		if o.Kind == kind {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *orders) Delete(_ context.Context, id int64) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	o, ok := r.st.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	delete(r.st.orders, id)
	delete(r.st.ordersByUser, o.UserID)
	return nil
}

// ---- OpLog ----

type oplog struct{ st *state }

func (r *oplog) Record(_ context.Context, userID, amount int64, opType string, note *string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	r.st.opSeq++
	var n *string
	if note != nil {
		v := *note
		n = &v
	}
	r.st.ops = append(r.st.ops, &model.Operation{
		ID:        r.st.opSeq,
		UserID:    userID,
		Amount:    amount,
		Type:      opType,
		Note:      n,
		CreatedAt: time.Now(),
	})
	return nil
}

func (r *oplog) ListByUser(_ context.Context, userID int64, limit int) ([]*model.Operation, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var ops []*model.Operation
	for i := len(r.st.ops) - 1; i >= 0 && len(ops) < limit; i-- {
		if r.st.ops[i].UserID == userID {
			op := *r.st.ops[i]
			ops = append(ops, &op)
		}
	}
	return ops, nil
}
