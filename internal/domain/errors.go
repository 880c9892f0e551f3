package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate budget exhausted")
	ErrBusyVenue     = errors.New("concurrency budget exhausted")
	ErrFetchTimeout  = errors.New("fetch timed out")
	ErrVenueDisabled = errors.New("venue disabled")
	ErrNoHeadroom    = errors.New("no inventory headroom")
	ErrInvalidSizing = errors.New("invalid sizing input")
	ErrCorruptRecord = errors.New("corrupt journal record")
	ErrJournalClosed = errors.New("journal closed")
	ErrBreakerOpen   = errors.New("venue circuit open")
)
