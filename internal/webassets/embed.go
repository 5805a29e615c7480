// Package webassets embeds the static landing, 404 and maintenance pages.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

const (
	IndexPage       = "index.html"
	NotFoundPage    = "404.html"
	MaintenancePage = "maintenance.html"
)

//go:embed site
var embedded embed.FS

// SiteFS is rooted at the site directory.
func SiteFS() fs.FS {
	sub, err := fs.Sub(embedded, "site")
	if err != nil {
		panic(fmt.Errorf("webassets: site subfs: %w", err))
	}
	return sub
}

// Page returns the bytes of one embedded page.
func Page(name string) ([]byte, error) {
	return fs.ReadFile(SiteFS(), name)
}
