package search

import "strings"

// PublicURL maps a stored asset reference to the public path it is served under.
// Absolute http(s) URLs and references already under prefix are returned unchanged;
// "./uploads/name" and bare names are rewritten to prefix+name.
func PublicURL(raw, prefix string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if prefix == "" {
		prefix = "/uploads/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if strings.HasPrefix(raw, prefix) {
		return raw
	}
	name := strings.TrimPrefix(raw, "./")
	name = strings.TrimPrefix(name, strings.TrimPrefix(prefix, "/"))
	return prefix + strings.TrimPrefix(name, "/")
}
