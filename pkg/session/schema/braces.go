package schema

import (
	"regexp"
	"strings"
)

var bracePattern = regexp.MustCompile(`\{(.+?)\}`)

// ExpandBraces expands the compact multi-type field syntax into the cross
// product of concrete field paths, e.g. "entity.{Asset,Shot}.code" becomes
// "entity.Asset.code" and "entity.Shot.code". Patterns without braces are
// returned unchanged.
func ExpandBraces(pattern string) []string {
	loc := bracePattern.FindStringSubmatchIndex(pattern)
	if loc == nil {
		return []string{pattern}
	}

	prefix := pattern[:loc[0]]
	alternatives := strings.Split(pattern[loc[2]:loc[3]], ",")

	expanded := []string{}
	for _, alternative := range alternatives {
		for _, suffix := range ExpandBraces(pattern[loc[1]:]) {
			expanded = append(expanded, prefix+alternative+suffix)
		}
	}

	return expanded
}
