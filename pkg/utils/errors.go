package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrFetch            = errors.New("fetch failed")                // Matched by every *FetchError
	ErrHTTPStatus       = errors.New("non-2xx HTTP status")         // Wraps status code and text
	ErrStorage          = errors.New("storage write failed")        // Matched by every *StorageError
	ErrParsing          = errors.New("parsing error")               // Wraps URL/HTML parse failures
	ErrDatabase         = errors.New("database error")              // Wraps badger errors
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")    // Outbound link blocked by policy
	ErrConfigValidation = errors.New("configuration validation error")
)

// FetchError reports a failed retrieval of URL. Err holds the underlying cause
// (transport error, context deadline, ErrHTTPStatus, body read error).
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrFetch) match any FetchError.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Timeout reports whether the fetch failed because the timeout budget ran out.
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// StorageError reports a failed write of Path.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// WrapErrorf wraps a sentinel with a formatted message.
func WrapErrorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// CategorizeError maps an error to a predefined category string for logging.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.Timeout() {
			return "Fetch_Timeout"
		}
		if errors.Is(err, ErrHTTPStatus) {
			errMsg := err.Error()
			switch {
			case strings.Contains(errMsg, " 404 "):
				return "HTTP_404"
			case strings.Contains(errMsg, " 403 "):
				return "HTTP_403"
			case strings.Contains(errMsg, " 429 "):
				return "HTTP_429"
			case strings.Contains(errMsg, "status 5"):
				return "HTTP_5xx"
			}
			return "HTTP_OtherStatus"
		}
		if errors.Is(err, context.Canceled) {
			return "System_ContextCanceled"
		}
		return "Fetch_" + categorizeNetwork(fetchErr.Err)
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		switch {
		case errors.Is(err, os.ErrPermission):
			return "Filesystem_Permission"
		case errors.Is(err, os.ErrNotExist):
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	}

	switch {
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrParsing):
		if strings.Contains(err.Error(), "URL") {
			return "Content_ParsingURL"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, context.Canceled):
		return "System_ContextCanceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "System_ContextDeadlineExceeded"
	}

	return categorizeNetwork(err)
}

// categorizeNetwork inspects transport-level errors that carry no sentinel.
func categorizeNetwork(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	case strings.Contains(lowerErrMsg, "unsupported protocol scheme"):
		return "Network_UnsupportedScheme"
	}
	return "Unknown"
}
