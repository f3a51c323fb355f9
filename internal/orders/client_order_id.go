// Package orders generates and parses the client order IDs attached to every
// submission. One ID is minted per intent; retries reuse it until the order
// size changes, which bumps the revision suffix.
package orders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxClientOrderIDLength is the maximum length allowed by Binance
	MaxClientOrderIDLength = 36

	// Prefix marks orders placed by this agent
	Prefix = "FA"
)

// Errors for client order ID operations
var (
	ErrClientOrderIDTooLong = errors.New("client order ID exceeds maximum length of 36 characters")
	ErrInvalidClientOrderID = errors.New("invalid client order ID format")
	ErrInvalidOrderType     = errors.New("invalid order type")
)

// ClientOrderID is an intent's order identity.
// Format: FA-[TYPE]-[16HEX]-R[N] (e.g., "FA-E-3f2a9c1d8b7e4f60-R0")
type ClientOrderID struct {
	Type     OrderType
	Chain    string // 16 hex characters from a random UUID
	Revision int
}

// NewClientOrderID mints a fresh ID for one intent
func NewClientOrderID(orderType OrderType) ClientOrderID {
	u := uuid.New()
	return ClientOrderID{
		Type:  orderType,
		Chain: strings.ReplaceAll(u.String(), "-", "")[:16],
	}
}

// Resized returns the ID to use after the order size changed. The chain is
// kept so every attempt of one intent can be correlated.
func (id ClientOrderID) Resized() ClientOrderID {
	id.Revision++
	return id
}

// ChainID is the ID without the revision suffix
func (id ClientOrderID) ChainID() string {
	return fmt.Sprintf("%s-%s-%s", Prefix, id.Type, id.Chain)
}

func (id ClientOrderID) String() string {
	return fmt.Sprintf("%s-R%d", id.ChainID(), id.Revision)
}

// ValidateClientOrderID validates that a client order ID meets Binance requirements.
// Returns nil if valid, error otherwise.
func ValidateClientOrderID(id string) error {
	if id == "" {
		return ErrInvalidClientOrderID
	}
	if len(id) > MaxClientOrderIDLength {
		return fmt.Errorf("%w: ID '%s' is %d characters (max %d)", ErrClientOrderIDTooLong, id, len(id), MaxClientOrderIDLength)
	}
	if ParseClientOrderID(id) == nil {
		return fmt.Errorf("%w: '%s'", ErrInvalidClientOrderID, id)
	}
	return nil
}

// validateOrderType checks if the order type is valid
func validateOrderType(orderType OrderType) error {
	for _, t := range AllOrderTypes() {
		if t == orderType {
			return nil
		}
	}
	return fmt.Errorf("%w: '%s'", ErrInvalidOrderType, orderType)
}
