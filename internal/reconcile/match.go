package reconcile

// BestMatch ищет подмножество counts с суммой ровно target и минимальной
// мощностью. При равной мощности побеждает первое сочетание в
// лексикографическом порядке индексов. Возвращает индексы или nil.
//
// Перебор экспоненциальный, поэтому вход обрезается до limit элементов
// (limit <= 0 снимает ограничение).
func BestMatch(counts []uint32, target uint32, limit int) []int {
	if target == 0 || len(counts) == 0 {
		return nil
	}
	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}

	n := len(counts)
	idx := make([]int, 0, n)
	for size := 1; size <= n; size++ {
		idx = idx[:0]
		if combination(counts, target, size, 0, 0, &idx) {
			out := make([]int, len(idx))
			copy(out, idx)
			return out
		}
	}
	return nil
}

// combination добирает сочетание размера size, начиная с индекса from
func combination(counts []uint32, target uint32, size, from int, sum uint64, idx *[]int) bool {
	if len(*idx) == size {
		return sum == uint64(target)
	}
	need := size - len(*idx)
	for i := from; i <= len(counts)-need; i++ {
		next := sum + uint64(counts[i])
		if next > uint64(target) {
			continue
		}
		*idx = append(*idx, i)
		if combination(counts, target, size, i+1, next, idx) {
			return true
		}
		*idx = (*idx)[:len(*idx)-1]
	}
	return false
}
