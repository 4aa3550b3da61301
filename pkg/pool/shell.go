package pool

import "strings"

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellCommand renders c as a quoted command line, prefixed with env when
// extra variables are set.
func shellCommand(c Command) string {
	parts := make([]string, 0, len(c.Args)+len(c.Env)+2)
	if len(c.Env) > 0 {
		parts = append(parts, "env")
		for _, kv := range c.Env {
			parts = append(parts, shellQuote(kv))
		}
	}
	parts = append(parts, shellQuote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}
