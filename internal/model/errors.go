package model

import "fmt"

// CarrierRequestError reports a failed or malformed carrier API exchange.
type CarrierRequestError struct {
	Carrier    string
	StatusCode int // 0 when the request never completed
	Detail     string
	Err        error
}

func (e *CarrierRequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: carrier request failed (HTTP %d): %s", e.Carrier, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: carrier request failed: %s", e.Carrier, e.Detail)
}

func (e *CarrierRequestError) Unwrap() error { return e.Err }

// MarketplaceFetchError reports a failed order fetch from the marketplace.
type MarketplaceFetchError struct {
	Marketplace string
	StatusCode  int
	Detail      string
}

func (e *MarketplaceFetchError) Error() string {
	return fmt.Sprintf("%s: fetch orders failed (HTTP %d): %s", e.Marketplace, e.StatusCode, e.Detail)
}

// MarketplaceUpdateError reports a failed tracking/ship update push.
type MarketplaceUpdateError struct {
	Marketplace string
	OrderID     string
	StatusCode  int
	Detail      string
}

func (e *MarketplaceUpdateError) Error() string {
	return fmt.Sprintf("%s: update for order %s failed (HTTP %d): %s", e.Marketplace, e.OrderID, e.StatusCode, e.Detail)
}

// ValidationError reports malformed input order data.
type ValidationError struct {
	OrderID string
	Field   string
	Detail  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order %s: invalid %s: %s", e.OrderID, e.Field, e.Detail)
}

// StorageError reports a persistence failure (CSV write, DB error).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }
