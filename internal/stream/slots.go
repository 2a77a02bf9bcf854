package stream

import "sync"

const defaultMaxStreams = 1000

// slotPool bounds open streams, SSE and websocket alike, per client IP and
// across the whole process.
type slotPool struct {
	mu       sync.Mutex
	byIP     map[string]int
	open     int
	perIP    int
	capacity int
}

func newSlotPool(perIP, capacity int) *slotPool {
	if capacity <= 0 {
		capacity = defaultMaxStreams
	}
	return &slotPool{byIP: make(map[string]int), perIP: perIP, capacity: capacity}
}

// take reserves a slot for ip. The returned func gives it back and is safe
// to call more than once.
func (p *slotPool) take(ip string) (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open >= p.capacity || p.byIP[ip] >= p.perIP {
		return nil, false
	}
	p.byIP[ip]++
	p.open++

	var once sync.Once
	return func() { once.Do(func() { p.give(ip) }) }, true
}

func (p *slotPool) give(ip string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open--
	if n := p.byIP[ip] - 1; n > 0 {
		p.byIP[ip] = n
	} else {
		delete(p.byIP, ip)
	}
}

// held reports the slots ip holds.
func (p *slotPool) held(ip string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byIP[ip]
}

func (p *slotPool) inUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}
