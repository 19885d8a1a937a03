package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ParseVariableList flattens repeated, comma-separated flag values into a list
// of names, dropping blanks and duplicates while keeping first-seen order.
func ParseVariableList(items ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, group := range items {
		for _, item := range group {
			for _, name := range strings.Split(item, ",") {
				name = strings.TrimSpace(name)
				if name == "" || seen[name] {
					continue
				}
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// ReadVariableFile reads a de-accumulation list: one name per line, blank lines
// and lines starting with "#" ignored.
func ReadVariableFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open variable list: %w", err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read variable list %s: %w", path, err)
	}
	return names, nil
}
