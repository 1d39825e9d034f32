package providergw

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
)

// ErrKind is the behavioural error taxonomy surfaced by the gateway
// (spec §7).
type ErrKind int

const (
	ErrKindUnknown ErrKind = iota
	ErrKindInvalidInput
	ErrKindNoActiveDevice
	ErrKindUnauthorized
	ErrKindNotFoundOrForbidden
	ErrKindTransient
)

// ErrInvalidInput is returned by parse for unparseable or unsupported
// references.
var ErrInvalidInput = errors.New("providergw: invalid input")

// Classify maps an error returned by the underlying provider client into
// the behavioural taxonomy the reconciliation loop and HTTP layer branch
// on.
func Classify(err error) ErrKind {
	if err == nil {
		return ErrKindUnknown
	}
	var spotifyErr spotify.Error
	if errors.As(err, &spotifyErr) {
		switch spotifyErr.Status {
		case 404:
			if strings.Contains(strings.ToUpper(spotifyErr.Message), "NO_ACTIVE_DEVICE") {
				return ErrKindNoActiveDevice
			}
			return ErrKindNotFoundOrForbidden
		case 401:
			return ErrKindUnauthorized
		case 403:
			return ErrKindNotFoundOrForbidden
		case 429, 500, 502, 503, 504:
			return ErrKindTransient
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no_active_device") || strings.Contains(msg, "no active device"):
		return ErrKindNoActiveDevice
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401"):
		return ErrKindUnauthorized
	case strings.Contains(msg, "forbidden") || strings.Contains(msg, "not found") || strings.Contains(msg, "403") || strings.Contains(msg, "404"):
		return ErrKindNotFoundOrForbidden
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return ErrKindTransient
	default:
		return ErrKindUnknown
	}
}

// IsRetryable reports whether an error classified by Classify should be
// retried by the gateway's own internal retry loop (transient network
// and rate-limit errors only; NoActiveDevice/Unauthorized/NotFound are
// handled by the caller, not retried blindly here).
func IsRetryable(err error) bool {
	return Classify(err) == ErrKindTransient
}
