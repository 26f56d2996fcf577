// FILE: internal/shared/buffer.go
package shared

import (
	"bytes"
	"sync"
)

// ThreadSafeBuffer is a bytes.Buffer guarded by a mutex. It is used as the
// diagnostic sink when the request dump has to be read from another goroutine.
type ThreadSafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// NewThreadSafeBuffer creates a new ThreadSafeBuffer
func NewThreadSafeBuffer() *ThreadSafeBuffer {
	return &ThreadSafeBuffer{}
}

func (b *ThreadSafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String returns a copy of everything written so far.
func (b *ThreadSafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func (b *ThreadSafeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Len()
}
