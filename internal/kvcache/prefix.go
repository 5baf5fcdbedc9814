package kvcache

// LongestCommonPrefix returns the length of the shared leading run of a and
// b. The result is always <= min(len(a), len(b)).
func LongestCommonPrefix(a, b []int) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
