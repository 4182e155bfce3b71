// Package expiry turns requested retention durations into concrete expiry
// timestamps, clamped to the platform's maximum retention window.
package expiry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ephemhq/ephem/config"
	"github.com/ephemhq/ephem/models"
)

// Never marks an explicit "never expire" request. Only honored for kinds
// that structurally support it; everyone else gets the maximum bounded
// retention instead, since the platform depends on guaranteed eventual
// deletion.
const Never time.Duration = -1

// DefaultTTL returns the kind-specific retention applied when the caller
// requests nothing. Zero means the kind defaults to never expiring.
func DefaultTTL(kind models.Kind) time.Duration {
	switch kind {
	case models.KindPaste:
		return config.DefaultPasteTTL
	case models.KindFile:
		return config.DefaultFileTTL
	case models.KindQR:
		return config.DefaultQRTTL
	case models.KindLink:
		return config.DefaultLinkTTL
	case models.KindURL:
		return 0
	}
	return config.DefaultPasteTTL
}

// Resolve computes the expiry timestamp for a resource created at now.
// A nil requested duration applies the kind default; Never is honored only
// for kinds that allow it. Whatever was asked, the result never exceeds
// now + MaxRetention. A nil return means the resource never expires.
func Resolve(kind models.Kind, requested *time.Duration, now time.Time) *time.Time {
	var ttl time.Duration

	switch {
	case requested == nil:
		ttl = DefaultTTL(kind)
		if ttl == 0 {
			if kind.AllowsNeverExpire() {
				return nil
			}
			ttl = config.MaxRetention
		}
	case *requested == Never:
		if kind.AllowsNeverExpire() {
			return nil
		}
		ttl = config.MaxRetention
	default:
		ttl = *requested
	}

	if ttl <= 0 || ttl > config.MaxRetention {
		ttl = config.MaxRetention
	}

	at := now.Add(ttl)
	return &at
}

// ParseTTL parses a user-supplied retention string: "never", a Go duration
// ("36h", "15m"), or a day count ("30d").
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if s == "never" {
		return Never, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return d, nil
}
