package checksum

import (
	"bufio"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// DefaultIgnoreFile is looked up in the root when no ignore file is configured.
const DefaultIgnoreFile = ".checksumignore"

// IgnoreRules holds glob patterns loaded from an ignore file.
// Entries whose base name matches a pattern are excluded from traversal.
type IgnoreRules struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	glob    string
	dirOnly bool // trailing / in source line
}

// LoadIgnoreRules reads an ignore file from fs. A missing or unreadable file
// yields empty rules (nothing is ignored).
func LoadIgnoreRules(fs afero.Fs, path string) *IgnoreRules {
	rules := &IgnoreRules{}

	f, err := fs.Open(path)
	if err != nil {
		return rules
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p := ignorePattern{glob: line}
		if strings.HasSuffix(line, "/") {
			p.glob = strings.TrimSuffix(line, "/")
			p.dirOnly = true
		}
		rules.patterns = append(rules.patterns, p)
	}

	sub("scanner").Debug("ignore rules loaded", "path", path, "patterns", len(rules.patterns))
	return rules
}

// Match reports whether an entry with the given base name is ignored.
// Directory-only patterns match only when isDir is true. A nil receiver
// ignores nothing.
func (r *IgnoreRules) Match(name string, isDir bool) bool {
	if r == nil {
		return false
	}
	for _, p := range r.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if ok, _ := filepath.Match(p.glob, name); ok {
			return true
		}
	}
	return false
}

// Len returns the number of loaded patterns.
func (r *IgnoreRules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.patterns)
}
