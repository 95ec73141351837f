package obs

import "strings"

// CanonicalPath collapses task identifiers into a placeholder so metric
// labels stay low-cardinality. Query strings are stripped.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	// /TaskItem/{id} and /TaskItem/{id}/<action> carry an opaque id in the
	// second segment.
	if len(parts) >= 3 && parts[1] == "TaskItem" && parts[2] != "" {
		parts[2] = ":id"
		return strings.Join(parts, "/")
	}
	return path
}
