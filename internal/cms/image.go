package cms

import (
	"strings"
)

// ImageBaseURL is where CMS image assets are served from.
const ImageBaseURL = "https://cdn.sanity.io/images"

// ImageURL turns an asset reference ("image-<id>-<w>x<h>-<ext>") into its CDN URL.
// Returns "" for references that do not have that shape.
func ImageURL(projectID, dataset, ref string) string {
	if projectID == "" || dataset == "" {
		return ""
	}
	rest, ok := strings.CutPrefix(ref, "image-")
	if !ok {
		return ""
	}
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 || i == len(rest)-1 {
		return ""
	}
	idDims, ext := rest[:i], rest[i+1:]

	// id and dimensions are separated by the last dash before the extension
	j := strings.LastIndexByte(idDims, '-')
	if j <= 0 || !validDims(idDims[j+1:]) {
		return ""
	}
	return ImageBaseURL + "/" + projectID + "/" + dataset + "/" + idDims + "." + ext
}

func validDims(s string) bool {
	w, h, ok := strings.Cut(s, "x")
	return ok && isDigits(w) && isDigits(h)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
