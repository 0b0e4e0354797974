// Package web bundles the admin panel templates and assets into the binary.
package web

import (
	"embed"
	"io/fs"
)

// Templates holds layouts, partials and pages.
//
//go:embed templates/layouts/*.html templates/partials/*.html templates/pages/*.html
var Templates embed.FS

//go:embed static
var static embed.FS

// Assets returns the static directory rooted so that css/app.css resolves as
// served under /static/.
func Assets() (fs.FS, error) {
	return fs.Sub(static, "static")
}
