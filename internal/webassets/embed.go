package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed fallback seed templates static
var embedded embed.FS

func sub(dir string) fs.FS {
	s, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(fmt.Errorf("webassets: %s subfs: %w", dir, err))
	}
	return s
}

// FallbackFS holds pages served without an active content snapshot.
func FallbackFS() fs.FS { return sub("fallback") }

// TemplatesFS holds the html/template page set.
func TemplatesFS() fs.FS { return sub("templates") }

// StaticFS holds files served under /static/.
func StaticFS() fs.FS { return sub("static") }

// SeedFS is rooted above seed/ so content.LoadSeed can read seed/content.json.
func SeedFS() fs.FS { return embedded }
