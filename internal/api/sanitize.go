package api

import "github.com/microcosm-cc/bluemonday"

// sanitizePolicy strips markup from every free-text field the Command
// API accepts (title, description, signup instructions, template
// names, display names) — grounded on leapmux-leapmux's
// bluemonday.StrictPolicy() usage for user-authored plan text.
var sanitizePolicy = bluemonday.StrictPolicy()

func sanitize(s string) string {
	return sanitizePolicy.Sanitize(s)
}

func sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitize(*s)
	return &v
}
