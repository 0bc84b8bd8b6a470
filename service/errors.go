package service

import "errors"

var (
	ErrNotRegistered         = errors.New("contributor not registered")
	ErrAlreadyRegistered     = errors.New("contributor already registered")
	ErrSuspended             = errors.New("contributor suspended")
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrAlreadyVoted          = errors.New("already voted")
	ErrWindowClosed          = errors.New("voting window closed")
	ErrSaltMismatch          = errors.New("salt does not reproduce committed root")
	ErrInsufficientConsensus = errors.New("insufficient consensus")
	ErrForbidden             = errors.New("forbidden")
	ErrKeyNotFound           = errors.New("escrow key not configured")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotRegistered, "NotRegistered"},
	{ErrAlreadyRegistered, "AlreadyRegistered"},
	{ErrSuspended, "Suspended"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrNotFound, "NotFound"},
	{ErrInvalidState, "InvalidState"},
	{ErrAlreadyVoted, "AlreadyVoted"},
	{ErrWindowClosed, "WindowClosed"},
	{ErrSaltMismatch, "SaltMismatch"},
	{ErrInsufficientConsensus, "InsufficientConsensus"},
	{ErrForbidden, "Forbidden"},
	{ErrKeyNotFound, "NotFound"},
}

// Code returns the stable taxonomy name of err: "" for nil, "Internal" for
// anything outside the taxonomy.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
