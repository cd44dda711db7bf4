package workspace

import "testing"

func TestIgnoreSetBuiltinPatterns(t *testing.T) {
	set := &ignoreSet{}
	for _, pattern := range builtinIgnorePatterns {
		rule, ok := parseIgnoreLine(pattern)
		if !ok {
			t.Fatalf("failed to parse builtin pattern %q", pattern)
		}
		set.rules = append(set.rules, rule)
	}

	cases := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".git", true, true},
		{"src/.git", true, true},
		{".env2", true, true},
		{".env3", true, true},
		{"module.pyc", false, true},
		{"pkg/module.pyc", false, true},
		{"main.go", false, false},
		{"src", true, false},
	}
	for _, c := range cases {
		if got := set.MatchPath(c.path, c.isDir); got != c.want {
			t.Errorf("MatchPath(%q, %v) = %v, want %v", c.path, c.isDir, got, c.want)
		}
	}
}

func TestIgnoreSetNegation(t *testing.T) {
	set := &ignoreSet{}
	for _, line := range []string{"*.log", "!important.log"} {
		rule, ok := parseIgnoreLine(line)
		if !ok {
			t.Fatalf("failed to parse %q", line)
		}
		set.rules = append(set.rules, rule)
	}

	if !set.MatchPath("debug.log", false) {
		t.Errorf("expected debug.log to be ignored")
	}
	if set.MatchPath("important.log", false) {
		t.Errorf("expected important.log to be re-included by negation")
	}
}

func TestIgnoreSetAnchoredPattern(t *testing.T) {
	set := &ignoreSet{}
	rule, _ := parseIgnoreLine("/build")
	set.rules = append(set.rules, rule)

	if !set.MatchPath("build", true) {
		t.Errorf("expected root-level build to be ignored")
	}
	if set.MatchPath("vendor/build", true) {
		t.Errorf("anchored pattern should not match nested build")
	}
}

func TestIgnoreSetDoubleStarPattern(t *testing.T) {
	set := &ignoreSet{}
	rule, _ := parseIgnoreLine("**/node_modules")
	set.rules = append(set.rules, rule)

	if !set.MatchPath("node_modules", true) {
		t.Errorf("expected top-level node_modules to match **/node_modules")
	}
	if !set.MatchPath("a/b/node_modules", true) {
		t.Errorf("expected nested node_modules to match **/node_modules")
	}
}

func TestIgnoreSetDirOnlySuffixDoesNotMatchFiles(t *testing.T) {
	set := &ignoreSet{}
	rule, _ := parseIgnoreLine("build/")
	set.rules = append(set.rules, rule)

	if set.MatchPath("build", false) {
		t.Errorf("dir-only pattern should not match a file named build")
	}
	if !set.MatchPath("build", true) {
		t.Errorf("dir-only pattern should match a directory named build")
	}
}
