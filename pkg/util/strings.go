package util

import "strings"

// SplitCommaSeparated splits a comma-separated string and trims whitespace from each element.
// Empty input returns nil.
func SplitCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// SanitizeName replaces characters that are unsafe in file names with hyphens.
func SanitizeName(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' {
			result = append(result, c)
		} else {
			result = append(result, '-')
		}
	}
	return string(result)
}

// AppendUnique appends v to list unless it is already present.
func AppendUnique[T comparable](list []T, v T) []T {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Contains reports whether v is in list.
func Contains[T comparable](list []T, v T) bool {
	for _, existing := range list {
		if existing == v {
			return true
		}
	}
	return false
}
