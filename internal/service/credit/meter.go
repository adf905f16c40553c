package credit

import (
	"log"
	"sync"
)

// Persister saves the balance whenever it changes. The sqlite store satisfies
// this; a nil persister keeps the meter purely in memory.
type Persister interface {
	SaveCredits(balance int) error
}

// Meter is the process-wide credit balance. All mutation goes through Spend
// and Set so the non-negative invariant holds under any interleaving.
type Meter struct {
	mu           sync.Mutex
	balance      int
	lowThreshold int
	persist      Persister
}

// NewMeter creates a meter with the given starting balance.
func NewMeter(balance, lowThreshold int, persist Persister) *Meter {
	if balance < 0 {
		balance = 0
	}
	return &Meter{
		balance:      balance,
		lowThreshold: lowThreshold,
		persist:      persist,
	}
}

// Spend atomically checks and decrements. It returns false and leaves the
// balance untouched when funds are insufficient.
func (m *Meter) Spend(amount int) bool {
	if amount < 0 {
		return false
	}

	m.mu.Lock()
	if m.balance < amount {
		m.mu.Unlock()
		return false
	}
	m.balance -= amount
	balance := m.balance
	m.mu.Unlock()

	m.save(balance)
	return true
}

// Balance returns the current balance.
func (m *Meter) Balance() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// IsLow reports whether the balance has reached the low-water mark.
func (m *Meter) IsLow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance <= m.lowThreshold
}

// Set administratively resets the balance. Negative values clamp to zero.
func (m *Meter) Set(amount int) {
	if amount < 0 {
		amount = 0
	}

	m.mu.Lock()
	m.balance = amount
	m.mu.Unlock()

	m.save(amount)
}

func (m *Meter) save(balance int) {
	if m.persist == nil {
		return
	}
	if err := m.persist.SaveCredits(balance); err != nil {
		log.Printf("[credit] failed to persist balance: %v", err)
	}
}
