package repospawn

import "strings"

// escaper maps the characters that are unsafe in image tags and scratch
// paths to an underscore.
var escaper = strings.NewReplacer(":", "_", "/", "_", "-", "_", ".", "_")

// Escape returns s with every ':', '/', '-' and '.' replaced by '_'.
// All other characters pass through unchanged.
func Escape(s string) string {
	return escaper.Replace(s)
}
