package utils

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Slugify lowercases a name and collapses every run of non-alphanumeric
// characters into a single hyphen.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// UniqueSlug appends a short random suffix to a base slug, used when the
// plain slug already exists.
func UniqueSlug(base string) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}
