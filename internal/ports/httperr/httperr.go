// Package httperr maps the internal error taxonomy (internal/domain) to the
// status kinds an HTTP transport would use, without depending on any HTTP
// framework itself. The transport layer is out of scope; this mapping table
// is what it would consume.
package httperr

import (
	"errors"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

// Kind is the transport-agnostic classification of an error: the HTTP
// status family a REST layer would respond with.
type Kind string

const (
	NotFound     Kind = "not_found"
	BadRequest   Kind = "bad_request"
	Unauthorized Kind = "unauthorized"
	Forbidden    Kind = "forbidden"
	Internal     Kind = "internal"
)

// Classify maps an error from the trade service, supervisor, or stores to
// the Kind an API layer should answer with. Errors that don't match any
// known taxonomy member classify as Internal, never leaking the message to
// a client.
func Classify(err error) Kind {
	if err == nil {
		return Internal
	}

	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return NotFound

	case errors.Is(err, domain.ErrBadRequest),
		errors.Is(err, domain.ErrInvalidOrderStatus):
		return BadRequest
	}

	var insufficient *domain.InsufficientFundsError
	if errors.As(err, &insufficient) {
		return BadRequest
	}

	var storeErr *domain.StoreError
	if errors.As(err, &storeErr) {
		if storeErr.Kind == domain.StoreErrorNotFound {
			return NotFound
		}
		return Internal
	}

	var marketErr *domain.MarketError
	if errors.As(err, &marketErr) {
		if marketErr.Kind == domain.MarketErrorNotFound {
			return NotFound
		}
		return Internal
	}

	return Internal
}
