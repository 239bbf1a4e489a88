package db

import (
	"testing"
)

func TestTxToken(t *testing.T) {
	var tok TxToken
	a, b := &struct{ int }{1}, &struct{ int }{2}

	tcompare(t, tok.Owner(), nil)
	tcompare(t, tok.Acquire(nil), false)
	tcompare(t, tok.Acquire(a), true)
	// Held, also when asked again by the holder.
	tcompare(t, tok.Acquire(a), false)
	tcompare(t, tok.Acquire(b), false)
	tcompare(t, tok.Holds(a), true)
	tcompare(t, tok.Holds(b), false)
	tcompare(t, tok.Owner(), any(a))

	tcompare(t, tok.Release(b), false)
	tcompare(t, tok.Holds(a), true)
	tcompare(t, tok.Release(a), true)
	tcompare(t, tok.Release(a), false)
	tcompare(t, tok.Owner(), nil)

	tcompare(t, tok.Acquire(b), true)
	tcompare(t, tok.Holds(nil), false)
	tcompare(t, tok.Release(nil), false)
}
