//go:build embed

// Package frontend serves the schedule viewer bundled into the binary.
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/index.html static/app.js
var viewer embed.FS

// Handler serves the embedded viewer with index.html at the root.
func Handler() http.Handler {
	root, err := fs.Sub(viewer, "static")
	if err != nil {
		panic(err)
	}
	files := http.FileServer(http.FS(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		files.ServeHTTP(w, r)
	})
}
