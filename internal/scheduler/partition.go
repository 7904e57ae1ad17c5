package scheduler

// partition splits n items into at most k contiguous chunks of size
// ceil(n/k), returned as [start, end) index pairs. Chunks are never empty:
// when n < k the effective fan-out degrades to n.
func partition(n, k int) [][2]int {
	if n <= 0 || k <= 0 {
		return nil
	}

	size := (n + k - 1) / k
	chunks := make([][2]int, 0, k)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		chunks = append(chunks, [2]int{start, end})
	}
	return chunks
}
