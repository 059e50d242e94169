package simpbot

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Transaction is one row of the points table.
type Transaction struct {
	TransactionID string
	Tenant        string
	DiscordUser   string
	Points        int64
	CreatedAt     time.Time
	Issuer        string
}

type Balance struct {
	DiscordUser string `json:"discord_user"`
	TotalPoints int64  `json:"total_points"`
}

// PointsStore persists point transactions. AddTransaction must ignore a
// transaction id it has already stored.
type PointsStore interface {
	AddTransaction(ctx context.Context, tx Transaction) (bool, error)
	Balances(ctx context.Context, tenant string) ([]Balance, error)
	DeleteTenant(ctx context.Context, tenant string) error
}

type MemoryStore struct {
	mu           sync.Mutex
	transactions map[string]Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transactions: map[string]Transaction{}}
}

func (s *MemoryStore) AddTransaction(_ context.Context, tx Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transactions[tx.TransactionID]; exists {
		return false, nil
	}
	s.transactions[tx.TransactionID] = tx
	return true, nil
}

func (s *MemoryStore) Balances(_ context.Context, tenant string) ([]Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Aggregate(tenant, s.list()), nil
}

func (s *MemoryStore) DeleteTenant(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tx := range s.transactions {
		if tx.Tenant == tenant {
			delete(s.transactions, id)
		}
	}
	return nil
}

func (s *MemoryStore) list() []Transaction {
	out := make([]Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		out = append(out, tx)
	}
	return out
}

// Aggregate sums the tenant's transactions per user, ordered by user.
func Aggregate(tenant string, transactions []Transaction) []Balance {
	totals := map[string]int64{}
	for _, tx := range transactions {
		if tx.Tenant != tenant {
			continue
		}
		totals[tx.DiscordUser] += tx.Points
	}
	out := make([]Balance, 0, len(totals))
	for user, total := range totals {
		out = append(out, Balance{DiscordUser: user, TotalPoints: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiscordUser < out[j].DiscordUser })
	return out
}

var _ PointsStore = (*MemoryStore)(nil)
