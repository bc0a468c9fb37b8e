// Package web holds the HTML templates and static assets, embedded so the
// binary runs from any working directory.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strconv"

	html "github.com/gofiber/template/html/v2"
)

//go:embed templates/*.html templates/*/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Engine returns a view engine over the embedded templates. Templates are
// addressed by path without extension, e.g. "listings/index".
func Engine() *html.Engine {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		panic(err)
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	engine.AddFunc("money", func(price int64) string {
		return "$" + strconv.FormatInt(price, 10)
	})
	return engine
}

// Static returns the embedded /static tree.
func Static() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}
