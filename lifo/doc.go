// Package lifo implements a bounded, byte-granular stack shared between
// independent producers and consumers.
//
// A [Stack] owns the bytes.  Producers reach it through a [Writer],
// consumers through a [Reader]; the two halves are deliberately
// asymmetric.  Writers never block: a write that cannot fit is rejected
// with [ErrNoSpace] and leaves the stack untouched.  Readers either block
// until data arrives or, when opened non-blocking, return an empty result
// straight away.
//
// Bytes come out in strict reverse order of insertion:
//
//	st := lifo.New(lifo.Config{})
//	st.Writer().Write([]byte("hi"))
//	st.Writer().Write([]byte("bye"))
//	b, _ := st.OpenReader(true).Read(ctx, 1023) // "eybih"
package lifo
