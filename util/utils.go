package util

import "strings"

func Ptr[T any](v T) *T {
	return &v
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(values ...string) []string {
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
