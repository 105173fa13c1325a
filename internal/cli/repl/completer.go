package repl

import (
	"sort"
	"strings"
)

var metaCommands = []string{`\?`, `\d`, `\dt`, `\q`, `\s`}

// Completer suggests meta commands and table names.
type Completer struct {
	tables []string
}

// NewCompleter creates a completer with no known tables.
func NewCompleter() *Completer {
	return &Completer{}
}

// SetTables replaces the known table names.
func (c *Completer) SetTables(names []string) {
	c.tables = append([]string(nil), names...)
	sort.Strings(c.tables)
}

// Commands returns meta commands starting with prefix.
func (c *Completer) Commands(prefix string) []string {
	return withPrefix(metaCommands, prefix)
}

// Tables returns table names starting with prefix, case-insensitively.
func (c *Completer) Tables(prefix string) []string {
	var out []string
	p := strings.ToLower(prefix)
	for _, t := range c.tables {
		if strings.HasPrefix(strings.ToLower(t), p) {
			out = append(out, t)
		}
	}
	return out
}

func withPrefix(candidates []string, prefix string) []string {
	var out []string
	for _, s := range candidates {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}
