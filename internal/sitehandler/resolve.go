package sitehandler

import (
	"io/fs"
	"path"
	"strings"

	"github.com/greenleafcpa/greenleaf-web/internal/pathutil"
)

// assetExts get the long-lived immutable cache policy.
var assetExts = map[string]bool{
	".css": true, ".js": true, ".mjs": true, ".map": true,
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true, ".svg": true, ".ico": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
}

// resolveStatic maps the part of a URL path after /static/ to a regular file in fsys.
func resolveStatic(rest string, fsys fs.FS) (string, bool) {
	name, ok := pathutil.CleanAsset(rest)
	if !ok || !existsFile(fsys, name) {
		return "", false
	}
	return name, true
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	return err == nil && info.Mode().IsRegular()
}

// cacheControlForFile picks the Cache-Control policy for a static file.
// Extensionless files are treated like pages.
func cacheControlForFile(name string, o *Options) string {
	ext := strings.ToLower(path.Ext(name))
	switch {
	case ext == "" || ext == ".html":
		return o.HTMLCacheControl
	case assetExts[ext]:
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
