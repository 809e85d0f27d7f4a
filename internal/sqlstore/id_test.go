package sqlstore

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
)

// Идентификаторы генерируются из общей энтропии параллельными запросами —
// проверяем уникальность под нагрузкой из нескольких goroutine.
func TestNewIDConcurrentUnique(t *testing.T) {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	s := &Store{
		entropy: &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(src, 0)},
	}

	const workers = 8
	const perWorker = 50

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := s.newID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	for id := range seen {
		_, err := ulid.Parse(id)
		assert.NoError(t, err)
	}
}
