package utils

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "My Project", "my-project"},
		{"punctuation", "Data & Analytics!", "data-analytics"},
		{"multiple spaces", "a   b", "a-b"},
		{"leading trailing", "  hello  ", "hello"},
		{"already slug", "already-a-slug", "already-a-slug"},
		{"numbers", "Project 42", "project-42"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.input); got != tt.expected {
				t.Errorf("Slugify(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestUniqueSlug(t *testing.T) {
	s1 := UniqueSlug("my-project")
	s2 := UniqueSlug("my-project")

	if !strings.HasPrefix(s1, "my-project-") {
		t.Errorf("UniqueSlug should keep base prefix, got %q", s1)
	}
	if s1 == s2 {
		t.Error("two unique slugs should differ")
	}
}

func TestUniqueSlug_EmptyBase(t *testing.T) {
	s := UniqueSlug("")
	if s == "" {
		t.Error("UniqueSlug with empty base should still return a value")
	}
	if strings.HasPrefix(s, "-") {
		t.Errorf("slug should not start with hyphen: %q", s)
	}
}
