//go:build !psicash_release

package request

import (
	"sync"

	"github.com/loykin/psicash/internal/constants"
)

// HeaderMutators is a FIFO of mutator strings understood by the ledger's
// test mode. Each request attempt consumes one entry and sends it in the
// test header; an empty entry sends nothing.
type HeaderMutators struct {
	mu    sync.Mutex
	queue []string
}

func NewHeaderMutators(mutators []string) *HeaderMutators {
	return &HeaderMutators{queue: append([]string(nil), mutators...)}
}

// Set replaces the queue.
func (h *HeaderMutators) Set(mutators []string) {
	h.mu.Lock()
	h.queue = append([]string(nil), mutators...)
	h.mu.Unlock()
}

// Pending returns how many mutators have not been consumed.
func (h *HeaderMutators) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

func (h *HeaderMutators) MutateRequest(_ int, r *Request) {
	h.mu.Lock()
	if len(h.queue) == 0 {
		h.mu.Unlock()
		return
	}
	m := h.queue[0]
	h.queue = h.queue[1:]
	h.mu.Unlock()

	if m != "" {
		r.Header.Set(constants.TestHeader, m)
	}
}
