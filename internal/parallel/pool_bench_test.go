package parallel

import (
	"strconv"
	"sync"
	"testing"
)

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(0)
	defer pool.Close()

	var wg sync.WaitGroup
	b.ResetTimer()
	for range b.N {
		wg.Add(1)
		if !pool.Submit(wg.Done) {
			wg.Done()
		}
	}
	wg.Wait()
}

// BenchmarkWorkerPool_For measures splitting a 1D dispatch of 64-thread
// groups across the pool.
func BenchmarkWorkerPool_For(b *testing.B) {
	for _, groups := range []int{16, 1024, 16384} {
		b.Run(strconv.Itoa(groups), func(b *testing.B) {
			pool := NewWorkerPool(0)
			defer pool.Close()
			data := make([]uint32, groups*64)

			b.ResetTimer()
			for range b.N {
				pool.For(groups, 4, func(lo, hi int) {
					for i := lo * 64; i < hi*64; i++ {
						data[i] = data[i]*2 + 1
					}
				})
			}
		})
	}
}
