package ratelimit

import (
	"errors"
	"fmt"
	"math"
)

// ErrRateLimitExceeded is returned when an entity is already at a tier
// ceiling for the current window.
var ErrRateLimitExceeded = errors.New("ratelimit: limit exceeded")

// Level is an entity's identity-assurance tier. Higher tiers unlock higher
// transaction and dispute ceilings.
type Level uint8

const (
	LevelBasic Level = iota
	LevelStaked
	LevelSocial
	LevelKYC
)

// Valid reports whether the level is within the supported range.
func (l Level) Valid() bool {
	return l <= LevelKYC
}

func (l Level) String() string {
	switch l {
	case LevelBasic:
		return "basic"
	case LevelStaked:
		return "staked"
	case LevelSocial:
		return "social"
	case LevelKYC:
		return "kyc"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(l))
	}
}

// ParseLevel maps a tier name onto its Level value.
func ParseLevel(name string) (Level, error) {
	switch name {
	case "basic":
		return LevelBasic, nil
	case "staked":
		return LevelStaked, nil
	case "social":
		return LevelSocial, nil
	case "kyc":
		return LevelKYC, nil
	default:
		return 0, fmt.Errorf("ratelimit: unknown verification level %q", name)
	}
}

// Limits holds the per-window ceilings for a verification level.
type Limits struct {
	TransactionsPerHour uint32
	TransactionsPerDay  uint32
	DisputesPerDay      uint32
}

// LimitsFor returns the tier ceilings for a verification level.
func LimitsFor(level Level) Limits {
	switch level {
	case LevelStaked:
		return Limits{TransactionsPerHour: 10, TransactionsPerDay: 100, DisputesPerDay: 10}
	case LevelSocial:
		return Limits{TransactionsPerHour: 50, TransactionsPerDay: 500, DisputesPerDay: 50}
	case LevelKYC:
		return Limits{TransactionsPerHour: 1000, TransactionsPerDay: 10000, DisputesPerDay: 1000}
	default:
		return Limits{TransactionsPerHour: 1, TransactionsPerDay: 10, DisputesPerDay: 3}
	}
}

const (
	hourSeconds int64 = 3_600
	daySeconds  int64 = 86_400
)

// Usage captures an entity's counters for the current hour and day buckets.
// Counters are only meaningful for the stored bucket indices; rollover zeroes
// them before any ceiling is consulted.
type Usage struct {
	TransactionsHour uint32
	TransactionsDay  uint32
	DisputesDay      uint32
	HourBucket       int64
	DayBucket        int64
}

// rollover advances the usage buckets to the windows containing now. Bucket
// indices are monotonically non-decreasing; counters are zeroed independently
// when their window changes.
func rollover(now int64, prev Usage) Usage {
	next := prev
	if hour := now / hourSeconds; hour > next.HourBucket {
		next.TransactionsHour = 0
		next.HourBucket = hour
	}
	if day := now / daySeconds; day > next.DayBucket {
		next.TransactionsDay = 0
		next.DisputesDay = 0
		next.DayBucket = day
	}
	return next
}

// Check rolls the usage buckets forward to now, verifies the hourly and daily
// transaction ceilings for the level and returns the usage with both counters
// incremented. On rejection the previous usage is returned untouched.
func Check(level Level, now int64, prev Usage) (Usage, error) {
	next := rollover(now, prev)
	limits := LimitsFor(level)
	if next.TransactionsHour >= limits.TransactionsPerHour {
		return prev, ErrRateLimitExceeded
	}
	if next.TransactionsDay >= limits.TransactionsPerDay {
		return prev, ErrRateLimitExceeded
	}
	next.TransactionsHour = satAdd32(next.TransactionsHour, 1)
	next.TransactionsDay = satAdd32(next.TransactionsDay, 1)
	return next, nil
}

// RecordDispute rolls the buckets forward and increments the daily dispute
// counter, enforcing the tier's disputes-per-day ceiling.
func RecordDispute(level Level, now int64, prev Usage) (Usage, error) {
	next := rollover(now, prev)
	limits := LimitsFor(level)
	if next.DisputesDay >= limits.DisputesPerDay {
		return prev, ErrRateLimitExceeded
	}
	next.DisputesDay = satAdd32(next.DisputesDay, 1)
	return next, nil
}

func satAdd32(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}
