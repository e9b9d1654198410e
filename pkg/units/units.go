package units

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
)

// ErrInvalidArgument is returned for every construction-time validation failure.
var ErrInvalidArgument = errors.New("invalid argument")

// Kind tells which dimension a Threshold is measured in.
type Kind int

const (
	// KindNone marks an untagged threshold, which is never valid.
	KindNone Kind = iota
	// KindCount is a number of consecutive samples.
	KindCount
	// KindDuration is an amount of wall-clock time.
	KindDuration
)

func (k Kind) String() string {
	switch k {
	case KindCount:
		return "count"
	case KindDuration:
		return "duration"
	default:
		return "none"
	}
}

// Threshold describes how much disagreement is required before a new state
// is accepted: either a number of samples or an elapsed duration.
type Threshold struct {
	Kind     Kind
	Count    int64
	Duration time.Duration
}

// Count returns a sample count threshold.
func Count(n int64) Threshold {
	return Threshold{Kind: KindCount, Count: n}
}

// Duration returns a time threshold.
func Duration(d time.Duration) Threshold {
	return Threshold{Kind: KindDuration, Duration: d}
}

// Validate checks that the threshold is tagged and strictly positive.
func (t Threshold) Validate() error {
	switch t.Kind {
	case KindCount:
		if t.Count <= 0 {
			return fmt.Errorf("%w: count threshold must be positive, got %d", ErrInvalidArgument, t.Count)
		}
	case KindDuration:
		if t.Duration <= 0 {
			return fmt.Errorf("%w: duration threshold must be positive, got %s", ErrInvalidArgument, t.Duration)
		}
	default:
		return fmt.Errorf("%w: threshold must be a count or a duration", ErrInvalidArgument)
	}
	return nil
}

// Reached reports whether the accumulated disagreement meets the threshold.
// A count threshold only looks at count, a duration threshold only at elapsed.
func (t Threshold) Reached(count int64, elapsed time.Duration) bool {
	switch t.Kind {
	case KindCount:
		return count >= t.Count
	case KindDuration:
		return elapsed >= t.Duration
	default:
		return false
	}
}

func (t Threshold) String() string {
	switch t.Kind {
	case KindCount:
		return fmt.Sprintf("%d count", t.Count)
	case KindDuration:
		return t.Duration.String()
	default:
		return "<none>"
	}
}

var countSuffixes = []string{"counts", "count", "samples", "sample", "x"}

// ParseThreshold parses a threshold from its textual form. A bare integer is
// a count, "<n> count", "<n> samples" and "<n>x" are counts as well, every
// other value must be a duration like "500ms" or "2 min".
func ParseThreshold(s string) (Threshold, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return Threshold{}, fmt.Errorf("%w: empty threshold", ErrInvalidArgument)
	}

	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := Count(n)
		return t, t.Validate()
	}

	lower := strings.ToLower(v)
	for _, suffix := range countSuffixes {
		num, found := strings.CutSuffix(lower, suffix)
		if !found {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("%w: invalid count %q", ErrInvalidArgument, s)
		}
		t := Count(n)
		return t, t.Validate()
	}

	d, err := strfmt.ParseDuration(v)
	if err != nil {
		return Threshold{}, fmt.Errorf("%w: %q is neither a count nor a duration", ErrInvalidArgument, s)
	}
	t := Duration(d)
	return t, t.Validate()
}

// ParseDuration parses a non-negative duration. Bare numbers are seconds.
func ParseDuration(s string) (time.Duration, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, fmt.Errorf("%w: empty duration", ErrInvalidArgument)
	}

	var d time.Duration
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else {
		d, err = strfmt.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid duration %q", ErrInvalidArgument, s)
		}
	}

	if d < 0 {
		return 0, fmt.Errorf("%w: duration must not be negative, got %q", ErrInvalidArgument, s)
	}
	return d, nil
}
