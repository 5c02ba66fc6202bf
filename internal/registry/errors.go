package registry

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("registration not found")
	ErrConflict         = errors.New("registration was modified concurrently")
	ErrExists           = errors.New("registration already exists")
	ErrDisabled         = errors.New("disabled")
	ErrNoSource         = errors.New("registration has no source URL to refresh from")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrNoSpecFound      = errors.New("no API description found")
)

// FetchError не-2xx ответ при загрузке описания API
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}
