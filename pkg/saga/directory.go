package saga

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownCustomer is returned when no bank is registered for a ucid.
var ErrUnknownCustomer = errors.New("saga: unknown customer")

// Directory maps customers (ucid) to the bank participant holding
// their accounts. The initiator routes requests with it.
type Directory struct {
	mu     sync.RWMutex
	byUCID map[string]string
}

// NewDirectory creates an empty customer directory.
func NewDirectory() *Directory {
	return &Directory{byUCID: make(map[string]string)}
}

// Register maps a customer to a bank participant.
func (d *Directory) Register(ucid, bank string) error {
	if ucid == "" || bank == "" {
		return fmt.Errorf("saga: ucid and bank are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byUCID[ucid] = bank
	return nil
}

// BankFor resolves the bank participant for a customer.
func (d *Directory) BankFor(ucid string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	bank, ok := d.byUCID[ucid]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCustomer, ucid)
	}
	return bank, nil
}
