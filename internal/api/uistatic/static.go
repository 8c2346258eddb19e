// Package uistatic embeds the browser chat client.
package uistatic

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:app
var assets embed.FS

// Handler serves files under app/. Paths without an extension are client
// routes and get index.html; a missing asset is a plain 404.
func Handler() http.Handler {
	root, err := fs.Sub(assets, "app")
	if err != nil {
		return http.NotFoundHandler()
	}
	index, err := fs.ReadFile(root, "index.html")
	if err != nil {
		return http.NotFoundHandler()
	}
	files := http.FileServerFS(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		switch {
		case name == "" || name == "index.html":
		case fileExists(root, name):
			files.ServeHTTP(w, r)
			return
		case path.Ext(name) != "":
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(index)
	})
}

func fileExists(root fs.FS, name string) bool {
	info, err := fs.Stat(root, name)
	return err == nil && !info.IsDir()
}
