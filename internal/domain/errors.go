package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientFetch is returned when an upstream request failed in a way worth retrying
	ErrTransientFetch = errors.New("transient upstream fetch failure")

	// ErrFatalConfig is returned for invalid categories or rejected credentials; the walk aborts
	ErrFatalConfig = errors.New("fatal catalog configuration error")

	// ErrPayloadRejected is returned when a raw payload cannot be normalized
	ErrPayloadRejected = errors.New("payload rejected")

	// ErrStoreWrite is returned when an observation could not be durably persisted
	ErrStoreWrite = errors.New("record store write failed")

	// ErrNotFound is returned when a product id is not part of the dataset
	ErrNotFound = errors.New("product not found")

	// ErrInvalidQuery is returned for malformed similarity queries
	ErrInvalidQuery = errors.New("invalid similarity query")

	// ErrNotBuilt is returned when the similarity engine is queried before Build
	ErrNotBuilt = errors.New("similarity index not built")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")
)

// FetchError carries the upstream context of a failed request.
// Kind is ErrTransientFetch or ErrFatalConfig.
type FetchError struct {
	Kind       error
	Op         string
	Category   string
	Page       int
	ArticleID  string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	target := fmt.Sprintf("category %q page %d", e.Category, e.Page)
	if e.ArticleID != "" {
		target = fmt.Sprintf("article %q", e.ArticleID)
	}
	msg := fmt.Sprintf("%s %s: %v", e.Op, target, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Rejection reasons reported by the normalizer
const (
	RejectMalformed        = "malformed_payload"
	RejectUnknownShape     = "unknown_shape"
	RejectMissingProductID = "missing_product_id"
	RejectAmbiguousPrice   = "ambiguous_price"
	RejectUnknownBasis     = "unknown_basis"
)

// RejectionError explains why a payload was skipped
type RejectionError struct {
	ProductID string
	Reason    string
	Detail    string
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("%v: %s", ErrPayloadRejected, e.Reason)
	if e.ProductID != "" {
		msg = fmt.Sprintf("%s (product %s)", msg, e.ProductID)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

func (e *RejectionError) Unwrap() error {
	return ErrPayloadRejected
}
