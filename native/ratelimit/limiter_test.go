package ratelimit

import (
	"errors"
	"testing"
)

const testNow int64 = 1_755_000_000

func TestParseLevel(t *testing.T) {
	for _, level := range []Level{LevelBasic, LevelStaked, LevelSocial, LevelKYC} {
		parsed, err := ParseLevel(level.String())
		if err != nil {
			t.Fatalf("parse %q: %v", level.String(), err)
		}
		if parsed != level {
			t.Fatalf("parse %q = %v, want %v", level.String(), parsed, level)
		}
	}
	if _, err := ParseLevel("platinum"); err == nil {
		t.Fatalf("unknown level accepted")
	}
	if Level(9).Valid() {
		t.Fatalf("out-of-range level reported valid")
	}
}

func TestLimitsFor(t *testing.T) {
	tests := []struct {
		level Level
		want  Limits
	}{
		{LevelBasic, Limits{TransactionsPerHour: 1, TransactionsPerDay: 10, DisputesPerDay: 3}},
		{LevelStaked, Limits{TransactionsPerHour: 10, TransactionsPerDay: 100, DisputesPerDay: 10}},
		{LevelSocial, Limits{TransactionsPerHour: 50, TransactionsPerDay: 500, DisputesPerDay: 50}},
		{LevelKYC, Limits{TransactionsPerHour: 1000, TransactionsPerDay: 10000, DisputesPerDay: 1000}},
	}
	for _, tc := range tests {
		if got := LimitsFor(tc.level); got != tc.want {
			t.Fatalf("LimitsFor(%v) = %+v, want %+v", tc.level, got, tc.want)
		}
	}
}

func TestCheckHourlyCeiling(t *testing.T) {
	usage := Usage{HourBucket: testNow / 3600, DayBucket: testNow / 86400}

	next, err := Check(LevelBasic, testNow, usage)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if next.TransactionsHour != 1 || next.TransactionsDay != 1 {
		t.Fatalf("usage = %+v, want counters at 1", next)
	}

	// The basic tier allows one transaction per hour.
	rejected, err := Check(LevelBasic, testNow, next)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("err = %v, want %v", err, ErrRateLimitExceeded)
	}
	if rejected != next {
		t.Fatalf("usage mutated on rejection: %+v", rejected)
	}
}

func TestCheckHourRollover(t *testing.T) {
	usage := Usage{
		TransactionsHour: 1,
		TransactionsDay:  1,
		HourBucket:       testNow / 3600,
		DayBucket:        testNow / 86400,
	}

	later := testNow + 3600
	next, err := Check(LevelBasic, later, usage)
	if err != nil {
		t.Fatalf("check after rollover: %v", err)
	}
	if next.TransactionsHour != 1 {
		t.Fatalf("hour counter = %d, want reset to 1", next.TransactionsHour)
	}
	// The day window may not have rolled; the daily counter keeps accruing.
	if next.TransactionsDay != 2 {
		t.Fatalf("day counter = %d, want 2", next.TransactionsDay)
	}
}

func TestCheckDailyCeiling(t *testing.T) {
	day := testNow / 86400
	usage := Usage{
		TransactionsDay: LimitsFor(LevelBasic).TransactionsPerDay,
		HourBucket:      testNow / 3600,
		DayBucket:       day,
	}
	if _, err := Check(LevelBasic, testNow, usage); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("err = %v, want %v", err, ErrRateLimitExceeded)
	}

	// A new day clears the ceiling.
	nextDay := (day + 1) * 86400
	next, err := Check(LevelBasic, nextDay, usage)
	if err != nil {
		t.Fatalf("check next day: %v", err)
	}
	if next.TransactionsDay != 1 || next.DisputesDay != 0 {
		t.Fatalf("usage after day rollover = %+v", next)
	}
}

func TestRecordDispute(t *testing.T) {
	usage := Usage{HourBucket: testNow / 3600, DayBucket: testNow / 86400}

	var err error
	for i := uint32(0); i < LimitsFor(LevelBasic).DisputesPerDay; i++ {
		usage, err = RecordDispute(LevelBasic, testNow, usage)
		if err != nil {
			t.Fatalf("dispute %d: %v", i, err)
		}
	}
	if _, err := RecordDispute(LevelBasic, testNow, usage); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("err = %v, want %v", err, ErrRateLimitExceeded)
	}

	// Dispute filings do not consume transaction quota.
	if usage.TransactionsHour != 0 || usage.TransactionsDay != 0 {
		t.Fatalf("transaction counters consumed by disputes: %+v", usage)
	}
}

func TestHigherTiersRaiseCeilings(t *testing.T) {
	usage := Usage{HourBucket: testNow / 3600, DayBucket: testNow / 86400}

	var err error
	for i := 0; i < 10; i++ {
		usage, err = Check(LevelStaked, testNow, usage)
		if err != nil {
			t.Fatalf("staked check %d: %v", i, err)
		}
	}
	if _, err := Check(LevelStaked, testNow, usage); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("err = %v, want %v", err, ErrRateLimitExceeded)
	}
}
