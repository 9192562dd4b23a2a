//go:build !embed

package frontend

import "net/http"

// Handler returns nil when the binary was built without the embedded
// frontend; the server then falls back to the filesystem.
func Handler() http.Handler {
	return nil
}
