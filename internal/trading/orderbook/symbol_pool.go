// Symbol interning for stable routing.
// Every component that handles a symbol string goes through Intern so the
// whole process shares one canonical instance per symbol.

package orderbook

import (
	"strings"
	"sync"
)

// SymbolPool deduplicates symbol strings. Interned strings are detached
// from their original backing arrays, so holding a symbol taken from a
// network read buffer does not pin the buffer.
type SymbolPool struct {
	mu      sync.RWMutex
	symbols map[string]string
}

// NewSymbolPool creates an empty pool.
func NewSymbolPool() *SymbolPool {
	return &SymbolPool{
		symbols: make(map[string]string, 128),
	}
}

// Intern returns the canonical instance of symbol, registering it on
// first sight.
func (p *SymbolPool) Intern(symbol string) string {
	p.mu.RLock()
	canonical, ok := p.symbols[symbol]
	p.mu.RUnlock()
	if ok {
		return canonical
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if canonical, ok = p.symbols[symbol]; ok {
		return canonical
	}
	canonical = strings.Clone(symbol)
	p.symbols[canonical] = canonical
	return canonical
}

// Preload registers a batch of symbols up front, avoiding write-lock
// traffic during the first requests.
func (p *SymbolPool) Preload(symbols []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range symbols {
		if _, ok := p.symbols[s]; !ok {
			c := strings.Clone(s)
			p.symbols[c] = c
		}
	}
}

// Size returns the number of interned symbols.
func (p *SymbolPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.symbols)
}

var defaultPool = NewSymbolPool()

// Intern registers symbol in the process-wide pool.
func Intern(symbol string) string {
	return defaultPool.Intern(symbol)
}

// Preload registers symbols in the process-wide pool.
func Preload(symbols []string) {
	defaultPool.Preload(symbols)
}
