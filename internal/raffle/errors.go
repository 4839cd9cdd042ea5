package raffle

import "errors"

// Kind groups error codes by the rule they enforce.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindTiming
	KindState
	KindCapacity
	KindArithmetic
	KindDataIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindTiming:
		return "timing"
	case KindState:
		return "state"
	case KindCapacity:
		return "capacity"
	case KindArithmetic:
		return "arithmetic"
	case KindDataIntegrity:
		return "data integrity"
	default:
		return "unknown"
	}
}

type Code string

// Error is a rejected precondition. The raffle it was raised against is unchanged.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func newError(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrRaffleExists      = newError(KindValidation, "RaffleExists", "raffle already exists")
	ErrInvalidName       = newError(KindValidation, "InvalidName", "raffle name exceeds 50 bytes")
	ErrInvalidCapacity   = newError(KindValidation, "InvalidCapacity", "ticket capacity out of range")
	ErrInvalidSaleWindow = newError(KindValidation, "InvalidSaleWindow", "sale end precedes sale start")
	ErrRaffleNotFound    = newError(KindValidation, "RaffleNotFound", "raffle not found")

	ErrNotAuthorized = newError(KindAuthorization, "NotAuthorized", "not authorized")
	ErrNotWinner     = newError(KindAuthorization, "NotWinner", "caller is not the winner")

	ErrRaffleStillActive = newError(KindTiming, "RaffleStillActive", "raffle still active")
	ErrSaleNotStarted    = newError(KindTiming, "SaleNotStarted", "ticket sale has not started")
	ErrSaleEnded         = newError(KindTiming, "SaleEnded", "ticket sale has ended")

	ErrRaffleNotActive            = newError(KindState, "RaffleNotActive", "raffle not active")
	ErrRandomnessAlreadyCommitted = newError(KindState, "RandomnessAlreadyCommitted", "randomness already committed")
	ErrRandomnessNotCommitted     = newError(KindState, "RandomnessNotCommitted", "randomness not committed")
	ErrWinnerAlreadyChosen        = newError(KindState, "WinnerAlreadyChosen", "winner already chosen")
	ErrWinnerNotChosen            = newError(KindState, "WinnerNotChosen", "winner not chosen")
	ErrAlreadyClaimed             = newError(KindState, "AlreadyClaimed", "already claimed")
	ErrAssetsAlreadyInitialized   = newError(KindState, "AssetsAlreadyInitialized", "raffle assets already initialized")
	ErrCollectionNotInitialized   = newError(KindState, "CollectionNotInitialized", "ticket collection not initialized")
	ErrMockRandomnessDisabled     = newError(KindState, "MockRandomnessDisabled", "mock randomness is disabled")

	ErrNoTicketsLeft              = newError(KindCapacity, "NoTicketsLeft", "no tickets left")
	ErrTicketLimitPerUserExceeded = newError(KindCapacity, "TicketLimitPerUserExceeded", "ticket limit per user exceeded")
	ErrOverflow                   = newError(KindArithmetic, "Overflow", "overflow")

	ErrNoTicketsBought          = newError(KindDataIntegrity, "NoTicketsBought", "no tickets bought")
	ErrMissingRandomnessAccount = newError(KindDataIntegrity, "MissingRandomnessAccount", "missing randomness account")
	ErrInvalidRandomnessAccount = newError(KindDataIntegrity, "InvalidRandomnessAccount", "invalid randomness account")
	ErrInvalidTicketData        = newError(KindDataIntegrity, "InvalidTicketData", "invalid ticket data")
	ErrInvalidRecord            = newError(KindDataIntegrity, "InvalidRecord", "stored raffle record is inconsistent")
	ErrZeroRandomness           = newError(KindDataIntegrity, "ZeroRandomness", "randomness source produced an all-zero seed")
)

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
