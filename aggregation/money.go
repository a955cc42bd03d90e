// Package aggregation implements the OperationAggregator: merging of
// metric value sets by metric kind, concatenation of log entries, and
// tracking of the widest start/end time for a single logical operation.
package aggregation

import (
	"math"

	"golang.org/x/text/currency"

	"github.com/Mindburn-Labs/quotacore/quotapb"
	"github.com/Mindburn-Labs/quotacore/status"
)

const nanosPerUnit = 1_000_000_000
const maxNanos = 999_999_999
const minNanos = -999_999_999

// ValidateMoney checks that m's currency code is well-formed and its
// units/nanos carry the same sign, mirroring the original's
// ValidateMoney precondition check before any arithmetic is attempted.
// Currency code validity is delegated to golang.org/x/text/currency
// rather than a hand-rolled three-letter check, so malformed or unknown
// ISO 4217 codes are rejected the same way anywhere else in the stack
// that parses currency codes.
func ValidateMoney(m quotapb.Money) error {
	if _, err := currency.ParseISO(m.CurrencyCode); err != nil {
		return status.InvalidArgument("invalid currency code %q: %v", m.CurrencyCode, err)
	}
	if m.Nanos < minNanos || m.Nanos > maxNanos {
		return status.InvalidArgument("nanos %d out of range [%d, %d]", m.Nanos, minNanos, maxNanos)
	}
	if (m.Units > 0 && m.Nanos < 0) || (m.Units < 0 && m.Nanos > 0) {
		return status.InvalidArgument("units and nanos must carry the same sign")
	}
	return nil
}

func sign(units int64, nanos int32) int {
	if units > 0 || (units == 0 && nanos > 0) {
		return 1
	}
	if units < 0 || (units == 0 && nanos < 0) {
		return -1
	}
	return 0
}

// AddMoney adds b into a, saturating on overflow. Both operands must
// share a currency code; mismatched currencies are an InvalidArgument
// error and a is left unchanged. On saturation the result is clamped to
// {MaxInt64, 999_999_999} or {MinInt64, -999_999_999} and an OutOfRange
// status is returned alongside the (still valid, saturated) sum —
// mirroring TryAddMoney/SaturatedAddMoney in the original, which always
// produce a usable result even when signaling overflow.
func AddMoney(a *quotapb.Money, b quotapb.Money) error {
	if a.CurrencyCode == "" {
		*a = b
		return nil
	}
	if a.CurrencyCode != b.CurrencyCode {
		return status.InvalidArgument("currency mismatch: %q vs %q", a.CurrencyCode, b.CurrencyCode)
	}

	units := a.Units + b.Units
	nanos := a.Nanos + b.Nanos

	overflowed := (b.Units > 0 && units < a.Units) || (b.Units < 0 && units > a.Units)

	// carry nanos into units across the billion boundary
	if nanos >= nanosPerUnit {
		nanos -= nanosPerUnit
		units++
	} else if nanos <= -nanosPerUnit {
		nanos += nanosPerUnit
		units--
	}

	// reconcile sign of units/nanos after the carry
	if units > 0 && nanos < 0 {
		units--
		nanos += nanosPerUnit
	} else if units < 0 && nanos > 0 {
		units++
		nanos -= nanosPerUnit
	}

	wantSign := sign(a.Units, a.Nanos)
	if sign(b.Units, b.Nanos) == wantSign && wantSign != 0 {
		gotSign := sign(units, nanos)
		if gotSign != 0 && gotSign != wantSign {
			overflowed = true
		}
	}

	if overflowed {
		if wantSign >= 0 {
			a.Units, a.Nanos = math.MaxInt64, maxNanos
		} else {
			a.Units, a.Nanos = math.MinInt64, minNanos
		}
		return status.OutOfRange("money addition overflowed, saturated result returned")
	}

	a.Units, a.Nanos = units, nanos
	return nil
}
