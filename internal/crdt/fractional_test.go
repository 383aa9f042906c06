package crdt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyBetweenBounds(t *testing.T) {
	k, err := GenerateKeyBetween(nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, k)

	first := k
	after, err := GenerateKeyBetween(&first, nil)
	require.NoError(t, err)
	assert.Greater(t, after, first)

	before, err := GenerateKeyBetween(nil, &first)
	require.NoError(t, err)
	assert.Less(t, before, first)
}

func TestGenerateKeyBetweenOrdering(t *testing.T) {
	a := "A"
	b := "B"
	mid, err := GenerateKeyBetween(&a, &b)
	require.NoError(t, err)
	assert.Greater(t, mid, a)
	assert.Less(t, mid, b)
}

// TestGenerateKeyBetweenZeroPaddedSuccessorErrorsWithoutPanic covers the one
// (a, b) pair with no key between them: b equal to a with a trailing zero
// digit appended. The generator never emits a key ending in 0, but callers
// can still pass such keys in. It must return an error, never panic.
func TestGenerateKeyBetweenZeroPaddedSuccessorErrorsWithoutPanic(t *testing.T) {
	a := "5"
	b := "50"
	_, err := GenerateKeyBetween(&a, &b)
	assert.Error(t, err)

	c := "5"
	d := "500"
	_, err = GenerateKeyBetween(&c, &d)
	assert.Error(t, err)
}

func TestGenerateKeyBetweenRejectsBadInputs(t *testing.T) {
	a := "B"
	b := "A"
	_, err := GenerateKeyBetween(&a, &b)
	assert.Error(t, err)
}

// TestGenerateKeyBetweenDense property-tests denseness: for 10,000 random
// (a, b) pairs with a < b, the generated key always lands strictly
// between them (§8, testable property 5).
func TestGenerateKeyBetweenDense(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		a, b := randomOrderedPair(r)
		k, err := GenerateKeyBetween(a, b)
		require.NoError(t, err)
		if a != nil {
			assert.Greater(t, k, *a, "i=%d a=%q b=%v", i, *a, b)
		}
		if b != nil {
			assert.Less(t, k, *b, "i=%d a=%v b=%q", i, a, *b)
		}
	}
}

// TestGenerateKeyBetweenRepeatedInsertion verifies that repeatedly
// inserting between the same two neighbors never runs out of key space.
func TestGenerateKeyBetweenRepeatedInsertion(t *testing.T) {
	a := "A"
	b := "B"
	lo, hi := &a, &b
	for i := 0; i < 500; i++ {
		k, err := GenerateKeyBetween(lo, hi)
		require.NoError(t, err)
		assert.Greater(t, k, *lo)
		assert.Less(t, k, *hi)
		hi = &k
	}
}

func TestGenerateKeyBetweenStable(t *testing.T) {
	a := "F"
	b := "G"
	k1, err := GenerateKeyBetween(&a, &b)
	require.NoError(t, err)
	k2, err := GenerateKeyBetween(&a, &b)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func randomOrderedPair(r *rand.Rand) (*string, *string) {
	switch r.Intn(4) {
	case 0:
		b := randomKey(r, r.Intn(5)+1)
		return nil, &b
	case 1:
		a := randomKey(r, r.Intn(5)+1)
		return &a, nil
	case 2:
		return nil, nil
	default:
		a := randomKey(r, r.Intn(4)+1)
		b := randomKey(r, r.Intn(4)+1)
		if a == b {
			b += string(alphabet[r.Intn(base)])
		}
		if a > b {
			a, b = b, a
		}
		// a followed only by zero digits (e.g. "5", "50") has no string
		// strictly between it and b; nudge b so the pair stays solvable.
		for isZeroPaddedSuccessor(a, b) {
			b += string(alphabet[1+r.Intn(base-1)])
		}
		return &a, &b
	}
}

// isZeroPaddedSuccessor reports whether b is a with nothing but the digit 0
// appended one or more times, the one (a, b) pair with no key between them.
func isZeroPaddedSuccessor(a, b string) bool {
	if len(b) <= len(a) || b[:len(a)] != a {
		return false
	}
	for i := len(a); i < len(b); i++ {
		if b[i] != alphabet[0] {
			return false
		}
	}
	return true
}

func randomKey(r *rand.Rand, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = alphabet[r.Intn(base)]
	}
	return string(out)
}
