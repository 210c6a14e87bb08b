package scanner

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type patternFile struct {
	Patterns []patternEntry `toml:"patterns"`
}

type patternEntry struct {
	Name  string `toml:"name"`
	Regex string `toml:"regex"`
}

// LoadPatterns reads extra detection patterns from a TOML file:
//
//	[[patterns]]
//	name = "Internal Token"
//	regex = 'itk_[a-f0-9]{32}'
func LoadPatterns(path string) ([]Pattern, error) {
	var parsed patternFile
	if _, err := toml.DecodeFile(path, &parsed); err != nil {
		return nil, fmt.Errorf("load patterns %s: %w", path, err)
	}
	patterns := make([]Pattern, 0, len(parsed.Patterns))
	for _, entry := range parsed.Patterns {
		if entry.Name == "" || entry.Regex == "" {
			return nil, fmt.Errorf("load patterns %s: every entry needs name and regex", path)
		}
		pattern, err := CompilePattern(entry.Name, entry.Regex)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}
