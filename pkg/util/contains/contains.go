package contains

import "strings"

func String(slice []string, s string) bool {
	for _, elem := range slice {
		if elem == s {
			return true
		}
	}
	return false
}

// Substring reports whether any element of the slice contains s. Process
// lists report full command lines, so exact matching is rarely useful there.
func Substring(slice []string, s string) bool {
	for _, elem := range slice {
		if strings.Contains(elem, s) {
			return true
		}
	}
	return false
}
