package dsl

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var referenceRegex = regexp.MustCompile(`\$\{\s*([a-zA-Z0-9_.]+)\s*\}`)

// ParseMappings parses "name=${parentParam},other=literal" into parameter
// mappings. Values are kept verbatim; ${x} entries reference parent parameters.
func ParseMappings(input string) (map[string]interface{}, error) {
	mappings := make(map[string]interface{})
	input = strings.TrimSpace(input)
	if input == "" {
		return mappings, nil
	}
	for _, entry := range strings.Split(input, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("dsl: mapping %q has no '='", entry)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("dsl: mapping %q has no parameter name", entry)
		}
		if _, dup := mappings[key]; dup {
			return nil, fmt.Errorf("dsl: parameter %q mapped twice", key)
		}
		mappings[key] = strings.TrimSpace(value)
	}
	return mappings, nil
}

// References returns the sorted parent parameter names referenced by ${...} expressions.
func References(mappings map[string]interface{}) []string {
	var refs []string
	seen := map[string]struct{}{}
	for _, value := range mappings {
		s, ok := value.(string)
		if !ok {
			continue
		}
		for _, match := range referenceRegex.FindAllStringSubmatch(s, -1) {
			if _, ok := seen[match[1]]; ok {
				continue
			}
			seen[match[1]] = struct{}{}
			refs = append(refs, match[1])
		}
	}
	sort.Strings(refs)
	return refs
}
