package util

import (
	"fmt"
	"sync"
)

// SequentialIDs returns a generator of "prefix-1", "prefix-2", ... It is safe for
// concurrent use and makes scripted runs reproducible where random ids would not be.
func SequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		n++
		id := n
		mu.Unlock()
		return fmt.Sprintf("%s-%d", prefix, id)
	}
}
