// Package ui embeds the browser chat client served next to the API.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// DistFS returns the embedded dist/ filesystem with the "dist" prefix stripped.
func DistFS() (fs.FS, error) {
	return fs.Sub(distFS, "dist")
}

// Handler serves the embedded chat client. Paths without a file extension
// fall back to index.html; missing assets return 404.
func Handler() (http.Handler, error) {
	sub, err := DistFS()
	if err != nil {
		return nil, err
	}

	fileServer := http.FileServerFS(sub)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := path.Clean(r.URL.Path)
		if p == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		p = strings.TrimPrefix(p, "/")
		if _, err := fs.Stat(sub, p); err == nil {
			fileServer.ServeHTTP(w, r)
			return
		}
		if path.Ext(p) != "" {
			http.NotFound(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	}), nil
}
