package workspace

import (
	"bufio"
	"os"
	"path"
	"strings"
)

// builtinIgnorePatterns are the patterns applied regardless of whether the
// workspace has a .gitignore file, matching the fixture rules a correct
// ignore matcher must honor.
var builtinIgnorePatterns = []string{
	".git/",
	".env2/",
	".env3/",
	"*.pyc",
}

// ignoreRule is one parsed line of a gitignore-style ignore file.
//
// Matching is implemented directly against the gitignore rules documented in
// `git help gitignore` rather than through a general-purpose glob library,
// since those libraries' subtleties (anchoring, negation order, `/`-suffix
// directory scoping) rarely line up exactly with git's own semantics and a
// sync tool needs to agree with the .gitignore files users already have.
type ignoreRule struct {
	negate   bool
	dirOnly  bool
	anchored bool
	segments []string
}

// ignoreSet is an ordered list of ignore rules. Per gitignore semantics, the
// last rule to match a given path determines whether it is ignored,
// allowing later "!" rules to re-include paths an earlier rule excluded.
type ignoreSet struct {
	rules []ignoreRule
}

func parseIgnoreLine(line string) (ignoreRule, bool) {
	line = strings.TrimRight(line, " ")
	if line == "" || strings.HasPrefix(line, "#") {
		return ignoreRule{}, false
	}

	rule := ignoreRule{}
	if strings.HasPrefix(line, "!") {
		rule.negate = true
		line = line[1:]
	}
	// A backslash can escape a leading "!" or "#"; not otherwise unescaped
	// here since workspace paths don't use the remaining escape forms.
	line = strings.TrimPrefix(line, "\\")

	if strings.HasSuffix(line, "/") {
		rule.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}

	trimmed := strings.TrimPrefix(line, "/")
	rule.anchored = trimmed != line || strings.Contains(trimmed, "/")
	rule.segments = strings.Split(trimmed, "/")

	return rule, true
}

// newIgnoreSet builds the ignore set for a workspace root: the built-in
// patterns followed by the contents of a .gitignore file at the root, if
// one exists.
func newIgnoreSet(root string) (*ignoreSet, error) {
	set := &ignoreSet{}
	for _, pattern := range builtinIgnorePatterns {
		if rule, ok := parseIgnoreLine(pattern); ok {
			set.rules = append(set.rules, rule)
		}
	}

	f, err := os.Open(path.Join(root, ".gitignore"))
	if os.IsNotExist(err) {
		return set, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if rule, ok := parseIgnoreLine(scanner.Text()); ok {
			set.rules = append(set.rules, rule)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return set, nil
}

// MatchPath reports whether relPath (workspace-relative, "/"-separated)
// should be ignored. isDir indicates whether relPath refers to a directory.
func (s *ignoreSet) MatchPath(relPath string, isDir bool) bool {
	if relPath == "" {
		return false
	}
	segments := strings.Split(relPath, "/")

	ignored := false
	for _, rule := range s.rules {
		if rule.dirOnly && !isDir {
			continue
		}
		if matchRule(rule, segments) {
			ignored = !rule.negate
		}
	}
	return ignored
}

// matchRule reports whether a single rule matches the given path segments.
func matchRule(rule ignoreRule, segments []string) bool {
	if rule.anchored {
		return matchSegments(rule.segments, segments)
	}
	// An unanchored pattern (a bare name with no other slash) matches if any
	// single path component matches it, mirroring git's "otherwise Git
	// compares the pattern against both the end of the path components"
	// behavior for single-segment patterns.
	if len(rule.segments) == 1 {
		for _, segment := range segments {
			if ok, _ := path.Match(rule.segments[0], segment); ok {
				return true
			}
		}
		return false
	}
	return matchSegments(rule.segments, segments)
}

// matchSegments matches a "/"-split pattern (which may contain "**"
// components) against a "/"-split path, both anchored at index 0.
func matchSegments(pattern, segments []string) bool {
	if len(pattern) == 0 {
		return len(segments) == 0
	}
	if pattern[0] == "**" {
		if len(pattern) == 1 {
			return true
		}
		for i := 0; i <= len(segments); i++ {
			if matchSegments(pattern[1:], segments[i:]) {
				return true
			}
		}
		return false
	}
	if len(segments) == 0 {
		return false
	}
	if ok, err := path.Match(pattern[0], segments[0]); err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segments[1:])
}
