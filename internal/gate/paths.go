// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/lo"
)

const wildcard = "*"

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// RequireAuth reports whether path needs authentication given the excluded
// entries. Paths and entries compare with a trailing slash. An entry ending in
// "*" excludes every path starting with the rest of the entry.
func RequireAuth(path string, excluded []string) bool {
	if len(excluded) == 0 {
		return true
	}
	return !compileExclusions(excluded).match(path)
}

// exclusions is a compiled excluded-path list.
type exclusions struct {
	exact    map[string]struct{}
	prefixes []glob.Glob
}

func compileExclusions(entries []string) *exclusions {
	ex := &exclusions{exact: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		if prefix, ok := strings.CutSuffix(entry, wildcard); ok {
			// QuoteMeta keeps the prefix literal; no separators so * spans "/".
			ex.prefixes = append(ex.prefixes, glob.MustCompile(glob.QuoteMeta(prefix)+wildcard))
			continue
		}
		ex.exact[withSlash(entry)] = struct{}{}
	}
	return ex
}

func (e *exclusions) match(path string) bool {
	if len(e.exact) == 0 && len(e.prefixes) == 0 {
		return false
	}
	path = withSlash(path)
	if _, ok := e.exact[path]; ok {
		return true
	}
	return lo.SomeBy(e.prefixes, func(g glob.Glob) bool { return g.Match(path) })
}
