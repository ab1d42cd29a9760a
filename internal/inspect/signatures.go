package inspect

import "regexp"

// Curated signature families matched against canonicalized input. The
// canonical form is already lower-case, so the patterns are written in
// lower-case only.

var sqliPatterns = []string{
	`(union\s*select)`,
	`(--|#|;)\s*$`,
	`(\s*or\s*\d+=\d+)`,
	`(and\s*(select|update|delete))`,
	`(benchmark\s*\()`,
	`(information_schema)`,
}

var xssPatterns = []string{
	`<script.*?>`,
	`</script.*?>`,
	`(<|%3c)img\s+src\s*=\s*['"]?\s*j\s*a\s*v\s*a\s*s\s*c\s*r\s*i\s*p\s*t\s*:`,
	`on(error|load|click|mouseover|submit)\s*=`,
	`alert\s*\(`,
	`javascript:`,
}

var traversalPatterns = []string{
	`\.\./`,
	`\.\.\\`,
	`(etc/passwd)`,
	`(cmd\.exe)`,
	`(/bin/sh)`,
}

type signature struct {
	family  string
	pattern *regexp.Regexp
}

func compileSignatures() []signature {
	families := []struct {
		name     string
		patterns []string
	}{
		{"sqli", sqliPatterns},
		{"xss", xssPatterns},
		{"traversal", traversalPatterns},
	}
	var out []signature
	for _, f := range families {
		for _, p := range f.patterns {
			out = append(out, signature{family: f.name, pattern: regexp.MustCompile(p)})
		}
	}
	return out
}
