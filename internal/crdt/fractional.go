package crdt

import (
	"fmt"
	"strings"
)

// alphabet is the base-62 digit set used to encode list positions. Keys
// compare with ordinary Go string comparison, which already implements the
// "shorter prefix sorts first" rule the generator relies on.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = len(alphabet)

var digitValue [256]int

func init() {
	for i := range digitValue {
		digitValue[i] = -1
	}
	for i := 0; i < base; i++ {
		digitValue[alphabet[i]] = i
	}
}

func decodeKey(s string) ([]int, error) {
	out := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		v := digitValue[s[i]]
		if v < 0 {
			return nil, fmt.Errorf("crdt: invalid position digit %q", s[i])
		}
		out[i] = v
	}
	return out, nil
}

func encodeKey(digits []int) string {
	var b strings.Builder
	b.Grow(len(digits))
	for _, d := range digits {
		b.WriteByte(alphabet[d])
	}
	return b.String()
}

// GenerateKeyBetween produces a position string strictly between a and b.
// A nil a means "no lower bound" (insert at the very start); a nil b means
// "no upper bound" (insert at the very end); both nil means the list is
// empty. Callers must ensure *a < *b when both are present.
func GenerateKeyBetween(a, b *string) (string, error) {
	if a != nil && b != nil && !(*a < *b) {
		return "", fmt.Errorf("crdt: GenerateKeyBetween requires a < b, got %q >= %q", *a, *b)
	}

	switch {
	case a == nil && b == nil:
		return string(alphabet[base/2]), nil

	case a == nil:
		db, err := decodeKey(*b)
		if err != nil {
			return "", err
		}
		return encodeKey(prependBefore(db)), nil

	case b == nil:
		da, err := decodeKey(*a)
		if err != nil {
			return "", err
		}
		return encodeKey(appendAfter(da)), nil

	default:
		da, err := decodeKey(*a)
		if err != nil {
			return "", err
		}
		db, err := decodeKey(*b)
		if err != nil {
			return "", err
		}
		digits, err := midpoint(da, db)
		if err != nil {
			return "", err
		}
		return encodeKey(digits), nil
	}
}

// midpoint returns digits strictly between da and db, where da < db under
// the prefix-sensitive string order (a missing digit sorts below every real
// digit; db is always a concrete, finite key here). Returns an error for the
// one pair with no string between them: da a strict prefix of db, with every
// digit of db past da's length equal to 0 (e.g. da="5", db="50").
func midpoint(da, db []int) ([]int, error) {
	var out []int
	for i := 0; ; i++ {
		dA := -1
		if i < len(da) {
			dA = da[i]
		}
		if i >= len(db) {
			// Invariant: this cannot happen for a well-formed da < db, since
			// db running out first while da still has digits would make db
			// a strict prefix of da, i.e. db < da. Fall back defensively.
			return appendAfter(out), nil
		}
		dB := db[i]

		if dA == dB {
			out = append(out, dA)
			continue
		}

		if dA == -1 && dB == 0 {
			// da ended exactly where db places its smallest digit: no digit
			// sorts strictly between "nothing" and 0 at this position. If db
			// has more digits past this one there may still be room deeper
			// in; if this was db's last digit, da and db are adjacent with
			// nothing between them.
			if i == len(db)-1 {
				return nil, fmt.Errorf("crdt: no key between exhausted prefix and %q", encodeKey(db))
			}
			out = append(out, 0)
			continue
		}

		// dA < dB is guaranteed by the a < b precondition.
		if dB-dA > 1 {
			newDigit := dA + (dB-dA)/2
			if newDigit == 0 {
				// A key ending in 0 leaves no key between it and its own
				// prefix; follow the 0 with a middle digit instead.
				return append(out, 0, base/2), nil
			}
			out = append(out, newDigit)
			return out, nil
		}

		// Adjacent digits: no room here. Pin this position to dA's value
		// (still < dB) and recurse on da's remaining suffix, looking for
		// something greater than it with no upper bound.
		out = append(out, dA)
		var rest []int
		if i+1 < len(da) {
			rest = da[i+1:]
		}
		return append(out, appendAfter(rest)...), nil
	}
}

// appendAfter returns digits strictly greater than rest, with no upper
// bound. Used both for list pushes and as the tail-extension step of
// midpoint.
func appendAfter(rest []int) []int {
	if len(rest) == 0 {
		return []int{base / 2}
	}
	last := rest[len(rest)-1]
	if last < base-1 {
		newLast := last + 1 + (base-1-last)/2
		if newLast <= last {
			newLast = last + 1
		}
		out := append([]int{}, rest[:len(rest)-1]...)
		return append(out, newLast)
	}
	out := append([]int{}, rest...)
	return append(out, base/2)
}

// prependBefore returns digits strictly less than rest, with no lower
// bound.
func prependBefore(rest []int) []int {
	if len(rest) == 0 {
		return []int{}
	}
	last := rest[len(rest)-1]
	if last > 1 {
		newLast := last / 2
		out := append([]int{}, rest[:len(rest)-1]...)
		return append(out, newLast)
	}
	if last == 1 {
		// Ending the key in 0 would leave no room below it later; follow
		// the 0 with a middle digit instead.
		out := append([]int{}, rest[:len(rest)-1]...)
		return append(out, 0, base/2)
	}
	// last == 0: the prefix with the trailing zero dropped already sorts
	// below rest (a missing digit sorts below digit 0).
	return append([]int{}, rest[:len(rest)-1]...)
}
