package domain

import "time"

// Tier is the subscription level used to select usage allowances.
type Tier string

const (
	TierFree    Tier = "free"
	TierSubscribed Tier = "subscribed"
)

// Limits is the allowance for a tier. Both bounds are inclusive caps
// on the number of consumptions per window.
type Limits struct {
	Daily   int
	Monthly int
}

// DenyReason explains why a consume attempt was rejected.
type DenyReason string

const (
	ReasonNone         DenyReason = ""
	ReasonDailyLimit   DenyReason = "daily_limit_reached"
	ReasonMonthlyLimit DenyReason = "monthly_limit_reached"
)

// Decision is the outcome of evaluating one consume attempt against a
// record. The counts reflect state after rollover but before any
// increment.
type Decision struct {
	Allowed          bool
	Reason           DenyReason
	DailyRemaining   int
	MonthlyRemaining int
	DailyReset       bool
	MonthlyReset     bool
}

// Rollover zeroes the windowed counters whose UTC window has passed.
// TotalCount is lifetime and never resets. Returns which windows were
// reset.
func Rollover(rec *UsageRecord, now time.Time) (dailyReset, monthlyReset bool) {
	now = now.UTC()

	if !sameUTCDay(rec.LastResetDaily, now) {
		rec.DailyCount = 0
		rec.LastResetDaily = now
		dailyReset = true
	}
	if !sameUTCMonth(rec.LastResetMonthly, now) {
		rec.MonthlyCount = 0
		rec.LastResetMonthly = now
		monthlyReset = true
	}
	return dailyReset, monthlyReset
}

// Decide evaluates a single consume attempt. It applies rollover to a
// copy of rec, then checks the monthly cap before the daily cap so a
// subject out of both windows is told about the monthly one.
func Decide(rec UsageRecord, limits Limits, now time.Time) Decision {
	dailyReset, monthlyReset := Rollover(&rec, now)

	d := Decision{
		DailyRemaining:   remaining(limits.Daily, rec.DailyCount),
		MonthlyRemaining: remaining(limits.Monthly, rec.MonthlyCount),
		DailyReset:       dailyReset,
		MonthlyReset:     monthlyReset,
	}

	switch {
	case rec.MonthlyCount >= limits.Monthly:
		d.Reason = ReasonMonthlyLimit
	case rec.DailyCount >= limits.Daily:
		d.Reason = ReasonDailyLimit
	default:
		d.Allowed = true
	}
	return d
}

// NextDailyReset returns the next UTC midnight after now.
func NextDailyReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// NextMonthlyReset returns the first UTC instant of the next month.
func NextMonthlyReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}

func sameUTCDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func sameUTCMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}
