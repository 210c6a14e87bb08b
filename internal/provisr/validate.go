package provisr

import "unicode"

// Structural validation of space-creation input. The checks are pure; they
// accumulate every violated rule in order, and an empty result means the
// value is structurally valid. Cross-referential checks (user existence,
// license) are separate and collect into the same issue list downstream.

func ValidateSpaceName(name string) []string {
	if name == "" {
		return []string{"Name is required"}
	}
	var issues []string
	if unicode.IsDigit(rune(name[0])) {
		issues = append(issues, "Name can't start with a number")
	}
	return issues
}

func ValidateSpaceKey(key string) []string {
	if key == "" {
		return []string{"Key is required"}
	}
	var issues []string
	if len(key) > 5 {
		issues = append(issues, "Key max 5 chars")
	}
	for _, r := range key {
		if r < 'A' || r > 'Z' {
			issues = append(issues, "Key must be uppercase letters only")
			break
		}
	}
	return issues
}
