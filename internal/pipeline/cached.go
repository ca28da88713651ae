package pipeline

import "github.com/fyrsmithlabs/answerd/internal/generation"

// IsCached reports whether a terminal event was served from the answer
// cache rather than a fresh generation.
func IsCached(ev generation.Event) bool {
	return ev.Answer != nil && ev.Delta == deltaCached
}
