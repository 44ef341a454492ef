// history/render.go
package history

import "github.com/sammcj/deskchat/types"

// Target flattens interactions into values for one consumer
type Target[T any] interface {
	Convert(i types.Interaction) []T
}

// Source lifts an inbound payload into an interaction
type Source[P any] interface {
	Sends(payload P) types.Interaction
}

// Render converts every interaction of h in order and concatenates the results
func Render[T any](t Target[T], h *History) []T {
	var out []T
	for _, it := range h.items {
		out = append(out, t.Convert(it)...)
	}
	return out
}
