package mapper

import (
	"sort"
	"unicode"
)

func intPtr(i int) *int {
	return &i
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// printable returns s when every rune is printable ASCII, else "".
func printable(s string) string {
	if s == "" {
		return ""
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return ""
		}
	}
	return s
}
