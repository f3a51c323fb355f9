package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/adshao/go-binance/v2/common"
)

// ErrorCategory is the recovery class of a gateway failure
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryTransient
	CategoryRateLimited
	CategoryInsufficientMargin
	CategoryReduceOnlyConflict
	CategoryPrecision
	CategoryInvalidSymbol
	CategoryMaxQuantity
	CategoryDuplicateOrder
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryInsufficientMargin:
		return "insufficient_margin"
	case CategoryReduceOnlyConflict:
		return "reduce_only_conflict"
	case CategoryPrecision:
		return "precision"
	case CategoryInvalidSymbol:
		return "invalid_symbol"
	case CategoryMaxQuantity:
		return "max_quantity"
	case CategoryDuplicateOrder:
		return "duplicate_order"
	default:
		return "unknown"
	}
}

// Terminal reports whether retrying can never succeed for the symbol
func (c ErrorCategory) Terminal() bool {
	return c == CategoryInvalidSymbol
}

// Binance USD-M error codes the agent reacts to
const (
	CodeDisconnected         = -1001
	CodeTooManyRequests      = -1003
	CodeTimeout              = -1007
	CodeTooManyOrders        = -1015
	CodeServiceShuttingDown  = -1016
	CodeFilterFailure        = -1013
	CodePrecisionOverMax     = -1111
	CodeInvalidSymbol        = -1121
	CodeInsufficientBalance  = -2018
	CodeMarginInsufficient   = -2019
	CodeReduceOnlyRejected   = -2022
	CodeQuantityLessThanZero = -4003
	CodeQuantityOverMax      = -4005
	CodeDuplicateClientID    = -4116
	CodeInvalidSymbolStatus  = -4140
	CodeSymbolClosed         = -4141
	CodeNotionalTooSmall     = -4164
)

// GatewayError is the typed error returned by every Gateway implementation
type GatewayError struct {
	Op       string
	Symbol   string
	Code     int64
	Message  string
	Category ErrorCategory
	Err      error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Symbol != "" {
		b.WriteString(" ")
		b.WriteString(e.Symbol)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, ": code=%d", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	fmt.Fprintf(&b, " (%s)", e.Category)
	return b.String()
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewError builds a classified GatewayError from a raw code and message
func NewError(op, symbol string, code int64, message string) *GatewayError {
	return &GatewayError{
		Op:       op,
		Symbol:   symbol,
		Code:     code,
		Message:  message,
		Category: Classify(code, message),
	}
}

// Wrap converts any error from the exchange SDK into a *GatewayError
func Wrap(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		e := NewError(op, symbol, apiErr.Code, apiErr.Message)
		e.Err = err
		return e
	}

	category := CategoryUnknown
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		category = CategoryTransient
	default:
		category = Classify(0, err.Error())
	}
	return &GatewayError{Op: op, Symbol: symbol, Message: err.Error(), Category: category, Err: err}
}

// Classify maps an exchange error to a category. The code is authoritative;
// the message is consulted only when the code is absent or unrecognised.
// This is the one place where message text is inspected.
func Classify(code int64, message string) ErrorCategory {
	switch code {
	case CodeMarginInsufficient, CodeInsufficientBalance:
		return CategoryInsufficientMargin
	case CodeReduceOnlyRejected:
		return CategoryReduceOnlyConflict
	case CodePrecisionOverMax, CodeFilterFailure, CodeQuantityLessThanZero, CodeNotionalTooSmall:
		return CategoryPrecision
	case CodeInvalidSymbolStatus, CodeInvalidSymbol, CodeSymbolClosed:
		return CategoryInvalidSymbol
	case CodeQuantityOverMax:
		return CategoryMaxQuantity
	case CodeDuplicateClientID:
		return CategoryDuplicateOrder
	case CodeTooManyRequests, CodeTooManyOrders:
		return CategoryRateLimited
	case CodeDisconnected, CodeTimeout, CodeServiceShuttingDown:
		return CategoryTransient
	}

	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "margin is insufficient"),
		strings.Contains(msg, "insufficient balance"):
		return CategoryInsufficientMargin
	case strings.Contains(msg, "reduceonly"), strings.Contains(msg, "reduce only"):
		return CategoryReduceOnlyConflict
	case strings.Contains(msg, "precision"):
		return CategoryPrecision
	case strings.Contains(msg, "invalid symbol"):
		return CategoryInvalidSymbol
	case strings.Contains(msg, "greater than max quantity"):
		return CategoryMaxQuantity
	case strings.Contains(msg, "too many requests"), strings.Contains(msg, "rate limit"):
		return CategoryRateLimited
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "eof"), strings.Contains(msg, "502"), strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return CategoryTransient
	default:
		return CategoryUnknown
	}
}

// CategoryOf returns the category of err, or CategoryUnknown for foreign errors
func CategoryOf(err error) ErrorCategory {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Category
	}
	return CategoryUnknown
}
