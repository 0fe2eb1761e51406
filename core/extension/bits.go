package extension

import "sync"

// bitPool hands out positions in a 64-bit mode field. Bits released by an
// immediate delete are reused; a revived entry keeps the bit it already
// held, so stored mode fields stay valid across a rehash.
type bitPool struct {
	mu   sync.Mutex
	used uint64
}

func (p *bitPool) alloc() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < 64; i++ {
		bit := uint64(1) << i
		if p.used&bit == 0 {
			p.used |= bit
			return bit, true
		}
	}
	return 0, false
}

func (p *bitPool) release(bit uint64) {
	p.mu.Lock()
	p.used &^= bit
	p.mu.Unlock()
}
