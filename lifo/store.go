package lifo

// Store is the LIFO byte container behind a [Stack].
//
// Units live in one growable buffer: index 0 is the bottom, the last
// index is the top.  Each unit is reserved from the Allocator before it
// is linked in, so a push can stop after any prefix without leaving a
// unit counted but not stored, or stored but not counted.
//
// A Store is not safe for concurrent use; [Stack] serialises access.
type Store struct {
	units []byte
	alloc Allocator
}

// NewStore returns an empty store drawing units from alloc.  A nil alloc
// means [Unlimited].
func NewStore(alloc Allocator) *Store {
	if alloc == nil {
		alloc = Unlimited{}
	}
	return &Store{alloc: alloc}
}

// PushFront places p on top of the store in the order given, so the last
// byte of p becomes the new top.  It performs no capacity check.
//
// It returns the number of bytes pushed, which is less than len(p) when
// the allocator ran out partway.
func (s *Store) PushFront(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	n := s.alloc.Reserve(len(p))
	if n <= 0 {
		return 0
	}
	s.units = append(s.units, p[:n]...)
	return n
}

// PopFront removes up to max bytes from the top, one unit at a time, and
// returns them in removal order.  The result never aliases the store.
func (s *Store) PopFront(max int) []byte {
	n := min(max, len(s.units))
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	top := len(s.units) - 1
	for i := range out {
		out[i] = s.units[top-i]
	}
	s.units = s.units[:len(s.units)-n]
	s.alloc.Release(n)

	if len(s.units) == 0 && cap(s.units) > shrinkThreshold {
		s.units = nil
	}
	return out
}

// Len returns the number of bytes held.
func (s *Store) Len() int { return len(s.units) }

// Empty reports whether the store holds no bytes.
func (s *Store) Empty() bool { return len(s.units) == 0 }

// Reset discards every unit and returns them to the allocator.
func (s *Store) Reset() {
	if n := len(s.units); n > 0 {
		s.alloc.Release(n)
	}
	s.units = nil
}

// Buffers that grew past this are dropped once drained so an idle stack
// does not pin its high-water mark.
const shrinkThreshold = 64 * 1024
