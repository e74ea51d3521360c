package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultExclude skips every folder whose name contains "delete" in any case,
// such as "Deleted Items" or "Inbox\DeleteMe".
const DefaultExclude = "(?i)delete"

// Options captures the folder selection configuration.
type Options struct {
	IncludeFolders []string
	ExcludeFolders []string
}

// Selector decides which archive folders are extracted. Patterns are matched
// anywhere in the raw, hierarchical folder name.
type Selector struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// New creates a Selector. The default exclusion is always active; the
// patterns in opts are added to it.
func New(opts Options) (*Selector, error) {
	include, err := compilePatterns(opts.IncludeFolders)
	if err != nil {
		return nil, fmt.Errorf("compile include-folder pattern: %w", err)
	}
	exclude, err := compilePatterns(append([]string{DefaultExclude}, opts.ExcludeFolders...))
	if err != nil {
		return nil, fmt.Errorf("compile exclude-folder pattern: %w", err)
	}

	return &Selector{include: include, exclude: exclude}, nil
}

// ShouldProcess reports whether the folder called rawName should be extracted.
// Exclusions always win over inclusions; without include patterns every
// folder that is not excluded is processed.
func (s *Selector) ShouldProcess(rawName string) bool {
	if matchAny(s.exclude, rawName) {
		return false
	}
	if len(s.include) == 0 {
		return true
	}
	return matchAny(s.include, rawName)
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
