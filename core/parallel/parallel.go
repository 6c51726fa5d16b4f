// Package parallel は行単位の処理を CPU コア数に応じて分割実行するヘルパーです。
package parallel

import (
	"runtime"
	"sync"
)

// Parallelize は items 個の要素を CPU コア数に応じた範囲 [start, end) に分割し、
// 各範囲に対して fn を並列に実行します。すべての fn が終わるまでブロックします。
func Parallelize(items int, fn func(start, end int)) {
	if items <= 0 {
		return
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items
	}
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for start := 0; start < items; start += chunkSize {
		end := start + chunkSize
		if end > items {
			end = items
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold は items が threshold を超える場合のみ並列化します。
// 小さな入力ではゴルーチンの起動コストの方が大きいため逐次実行します。
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}

// ParallelizeErr は ParallelizeWithThreshold と同様に分割実行し、
// 最初に発生したエラーを返します。
func ParallelizeErr(items int, threshold int, fn func(start, end int) error) error {
	var (
		mu       sync.Mutex
		firstErr error
	)
	ParallelizeWithThreshold(items, threshold, func(start, end int) {
		if err := fn(start, end); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	})
	return firstErr
}
