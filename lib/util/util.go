// Package util contains helper functions used around the code.
package util

// In returns true if s is found in ss, false otherwise
func In(ss []string, s string) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// Dedup returns ss with duplicates removed, preserving first-seen order.
func Dedup(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	r := make([]string, 0, len(ss))
	for _, v := range ss {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		r = append(r, v)
	}
	return r
}
