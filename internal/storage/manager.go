package storage

import (
	"errors"

	"github.com/bobmcallan/passage/internal/interfaces"
)

// Manager overlays a separate TransactionStore on a primary StorageManager.
// Every other store, including the token swapper, comes from the primary.
type Manager struct {
	interfaces.StorageManager
	transactions interfaces.TransactionStore
	closeTxns    func() error
}

// NewManager wraps primary so that TransactionStore returns transactions.
// closeTxns, when non-nil, is called from Close after the primary is closed.
func NewManager(primary interfaces.StorageManager, transactions interfaces.TransactionStore, closeTxns func() error) *Manager {
	return &Manager{
		StorageManager: primary,
		transactions:   transactions,
		closeTxns:      closeTxns,
	}
}

func (m *Manager) TransactionStore() interfaces.TransactionStore {
	return m.transactions
}

func (m *Manager) Close() error {
	err := m.StorageManager.Close()
	if m.closeTxns != nil {
		err = errors.Join(err, m.closeTxns())
	}
	return err
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
