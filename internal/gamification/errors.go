package gamification

import "errors"

// Business-rule failures. Handlers map these to 4xx responses; anything
// else coming out of the engine is a storage failure.
var (
	ErrInvalidQuantity      = errors.New("quantity must be between 1 and 10")
	ErrProductNotFound      = errors.New("product not found or no longer available")
	ErrInsufficientPoints   = errors.New("insufficient points")
	ErrOutOfStock           = errors.New("product is out of stock")
	ErrExchangeLimitReached = errors.New("exchange limit reached for this product")
	ErrExchangeNotFound     = errors.New("exchange record not found")
	ErrExchangeNotPending   = errors.New("exchange record has already been processed")
	ErrInvalidPoints        = errors.New("points must be a positive integer")
	ErrProjectNotFound      = errors.New("project not found")
	ErrNotFound             = errors.New("not found")
	ErrUnknownTrigger       = errors.New("unknown trigger type")
	ErrMissingThreshold     = errors.New("trigger conditions have no threshold")
)

// IsBusinessError reports whether err is an expected, user-recoverable failure.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrInvalidQuantity, ErrProductNotFound, ErrInsufficientPoints, ErrOutOfStock,
		ErrExchangeLimitReached, ErrExchangeNotFound, ErrExchangeNotPending,
		ErrInvalidPoints, ErrProjectNotFound, ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
