package wallet

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/mbande/biskato/internal/idgen"
	"github.com/mbande/biskato/internal/money"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
type MemoryStore struct {
	balances map[string]*Balance
	holds    map[string][]*Hold // orderID -> holds
	order    []string           // orderIDs in open order, for stable listing
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		holds:    make(map[string][]*Hold),
	}
}

func (m *MemoryStore) balance(userID string) *Balance {
	bal, ok := m.balances[userID]
	if !ok {
		bal = &Balance{
			UserID:        userID,
			Available:     "0.00",
			TotalEarnings: "0.00",
			Credit:        "0.00",
			UpdatedAt:     time.Now(),
		}
		m.balances[userID] = bal
	}
	return bal
}

func (m *MemoryStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp := Balance{
		UserID:        userID,
		Available:     "0.00",
		TotalEarnings: "0.00",
		Credit:        "0.00",
		UpdatedAt:     time.Now(),
	}
	if bal, ok := m.balances[userID]; ok {
		cp = *bal
	}

	pendingIn := big.NewInt(0)
	pendingOut := big.NewInt(0)
	for _, hs := range m.holds {
		for _, h := range hs {
			if h.UserID != userID || h.Status != HoldOpen {
				continue
			}
			amt, _ := money.Parse(h.Amount)
			if h.Role == RoleSeller {
				pendingIn.Add(pendingIn, amt)
			} else {
				pendingOut.Add(pendingOut, amt)
			}
		}
	}
	cp.PendingIn = money.Format(pendingIn)
	cp.PendingOut = money.Format(pendingOut)
	return &cp, nil
}

func (m *MemoryStore) OpenHolds(ctx context.Context, orderID, buyerID, sellerID, amount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.holds[orderID]; exists {
		return ErrHoldExists
	}

	now := time.Now()
	canonical := money.Add(amount, "0") // normalize to 2 decimals
	m.holds[orderID] = []*Hold{
		{
			ID:       idgen.WithPrefix("hld_"),
			OrderID:  orderID,
			UserID:   buyerID,
			Role:     RoleBuyer,
			Amount:   canonical,
			Status:   HoldOpen,
			OpenedAt: now,
		},
		{
			ID:       idgen.WithPrefix("hld_"),
			OrderID:  orderID,
			UserID:   sellerID,
			Role:     RoleSeller,
			Amount:   canonical,
			Status:   HoldOpen,
			OpenedAt: now,
		},
	}
	m.order = append(m.order, orderID)
	return nil
}

// settle closes open holds under the lock and returns the parties and amount.
func (m *MemoryStore) settle(orderID string, status HoldStatus) (buyerID, sellerID, amount string, err error) {
	hs, ok := m.holds[orderID]
	if !ok {
		return "", "", "", ErrHoldNotOpen
	}

	now := time.Now()
	open := 0
	for _, h := range hs {
		if h.Status != HoldOpen {
			continue
		}
		open++
		switch h.Role {
		case RoleBuyer:
			buyerID = h.UserID
		case RoleSeller:
			sellerID = h.UserID
		}
		amount = h.Amount
		h.Status = status
		settled := now
		h.SettledAt = &settled
	}
	if open == 0 {
		return "", "", "", ErrHoldNotOpen
	}
	return buyerID, sellerID, amount, nil
}

func (m *MemoryStore) Release(ctx context.Context, orderID string) (*Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buyerID, sellerID, amount, err := m.settle(orderID, HoldReleased)
	if err != nil {
		return nil, err
	}

	bal := m.balance(sellerID)
	bal.Available = money.Add(bal.Available, amount)
	bal.TotalEarnings = money.Add(bal.TotalEarnings, amount)
	bal.UpdatedAt = time.Now()

	return &Settlement{
		OrderID:     orderID,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		Amount:      amount,
		BuyerShare:  "0.00",
		SellerShare: amount,
	}, nil
}

func (m *MemoryStore) Refund(ctx context.Context, orderID string) (*Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buyerID, sellerID, amount, err := m.settle(orderID, HoldRefunded)
	if err != nil {
		return nil, err
	}

	bal := m.balance(buyerID)
	bal.Credit = money.Add(bal.Credit, amount)
	bal.UpdatedAt = time.Now()

	return &Settlement{
		OrderID:     orderID,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		Amount:      amount,
		BuyerShare:  amount,
		SellerShare: "0.00",
	}, nil
}

func (m *MemoryStore) Split(ctx context.Context, orderID, buyerShare string) (*Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hs, ok := m.holds[orderID]
	if !ok || len(hs) == 0 || hs[0].Status != HoldOpen {
		return nil, ErrHoldNotOpen
	}

	sellerShare, err := splitShares(hs[0].Amount, buyerShare)
	if err != nil {
		return nil, err
	}

	buyerID, sellerID, amount, err := m.settle(orderID, HoldSplit)
	if err != nil {
		return nil, err
	}

	share := money.Add(buyerShare, "0")
	buyerBal := m.balance(buyerID)
	buyerBal.Credit = money.Add(buyerBal.Credit, share)
	buyerBal.UpdatedAt = time.Now()

	sellerBal := m.balance(sellerID)
	sellerBal.Available = money.Add(sellerBal.Available, sellerShare)
	sellerBal.TotalEarnings = money.Add(sellerBal.TotalEarnings, sellerShare)
	sellerBal.UpdatedAt = time.Now()

	return &Settlement{
		OrderID:     orderID,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		Amount:      amount,
		BuyerShare:  share,
		SellerShare: sellerShare,
	}, nil
}

func (m *MemoryStore) HoldsByOrder(ctx context.Context, orderID string) ([]*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hs, ok := m.holds[orderID]
	if !ok {
		return nil, nil
	}
	out := make([]*Hold, len(hs))
	for i, h := range hs {
		cp := *h
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) HoldsByUser(ctx context.Context, userID string, limit int) ([]*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Hold
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		for _, h := range m.holds[m.order[i]] {
			if h.UserID == userID && len(result) < limit {
				cp := *h
				result = append(result, &cp)
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) OpenHoldTotal(ctx context.Context, role Role) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := big.NewInt(0)
	for _, hs := range m.holds {
		for _, h := range hs {
			if h.Role == role && h.Status == HoldOpen {
				amt, _ := money.Parse(h.Amount)
				total.Add(total, amt)
			}
		}
	}
	return money.Format(total), nil
}
