package ledger

import "errors"

// Every error returned by the ledger wraps one of these sentinels, so callers
// can branch with errors.Is and still show the wrapped reason to the user.
var (
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrInvalidState           = errors.New("invalid state")
	ErrNotOwner               = errors.New("not owner")
	ErrNotAuthorized          = errors.New("not authorized")
	ErrInsufficientAllocation = errors.New("insufficient allocation")
	ErrInsufficientPool       = errors.New("insufficient pool balance")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotFound               = errors.New("not found")
	ErrExternalChannelFailure = errors.New("external channel failure")
)

// IsRecoverable reports whether err is one of the ledger's own rejections
// rather than a storage or infrastructure fault.
func IsRecoverable(err error) bool {
	for _, target := range []error{
		ErrInvalidTransition, ErrInvalidState, ErrNotOwner, ErrNotAuthorized,
		ErrInsufficientAllocation, ErrInsufficientPool, ErrInsufficientBalance,
		ErrInvalidAmount, ErrInvalidInput, ErrNotFound, ErrExternalChannelFailure,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
