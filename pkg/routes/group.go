// Package routes declares HTTP route tables and registers them on a ServeMux
// using Go 1.22+ method patterns.
package routes

import "net/http"

// Group organizes routes under a common prefix. Children inherit the
// accumulated prefix of their parents.
type Group struct {
	Prefix   string
	Routes   []Route
	Children []Group
}

// Register adds all routes from the given groups to the mux.
func Register(mux *http.ServeMux, groups ...Group) {
	walk("", groups, func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, h)
	})
}

// Patterns lists the fully-qualified patterns the groups would register,
// in declaration order.
func Patterns(groups ...Group) []string {
	var out []string
	walk("", groups, func(pattern string, _ http.HandlerFunc) {
		out = append(out, pattern)
	})
	return out
}

func walk(parent string, groups []Group, fn func(string, http.HandlerFunc)) {
	for _, g := range groups {
		prefix := parent + g.Prefix
		for _, r := range g.Routes {
			fn(r.pattern(prefix), r.Handler)
		}
		walk(prefix, g.Children, fn)
	}
}
