package sequencer

// arena is the ring write buffer shared by zero-copy claims. Regions are
// carved contiguously in claim order; a region that does not fit at the tail
// wraps to offset zero and the skipped tail bytes stay reserved until the
// region is freed. Regions may be freed in any order but space is reclaimed
// from the oldest region only.
type arena struct {
	buf     []byte
	regions []*region
	start   int
	end     int
	used    int
}

type region struct {
	off   int
	n     int
	pad   int
	freed bool
}

func newArena(size int) *arena {
	return &arena{buf: make([]byte, size)}
}

func (a *arena) capacity() int { return len(a.buf) }

// alloc reserves n contiguous bytes or returns nil when they are not
// available right now.
func (a *arena) alloc(n int) *region {
	if n <= 0 || n > len(a.buf) {
		return nil
	}
	if len(a.regions) == 0 {
		a.start, a.end, a.used = 0, 0, 0
	}
	var r *region
	switch {
	case len(a.regions) == 0 || a.end > a.start:
		if len(a.buf)-a.end >= n {
			r = &region{off: a.end, n: n}
		} else if a.start >= n {
			r = &region{off: 0, n: n, pad: len(a.buf) - a.end}
		}
	case a.end < a.start:
		if a.start-a.end >= n {
			r = &region{off: a.end, n: n}
		}
	}
	if r == nil {
		return nil
	}
	a.end = r.off + n
	a.used += n + r.pad
	a.regions = append(a.regions, r)
	return r
}

func (a *arena) bytes(r *region) []byte {
	return a.buf[r.off : r.off+r.n : r.off+r.n]
}

// free marks r reusable and reclaims every freed region at the head.
func (a *arena) free(r *region) {
	if r == nil || r.freed {
		return
	}
	r.freed = true
	for len(a.regions) > 0 && a.regions[0].freed {
		head := a.regions[0]
		a.regions[0] = nil
		a.regions = a.regions[1:]
		a.used -= head.n + head.pad
		if len(a.regions) > 0 {
			a.start = a.regions[0].off
		}
	}
	if len(a.regions) == 0 {
		a.start, a.end, a.used = 0, 0, 0
	}
}
