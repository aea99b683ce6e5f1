package sitehandler

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"strconv"

	"github.com/greenleafcpa/greenleaf-web/internal/content"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapPage struct {
	path     string
	freq     string
	priority float64
	enabled  func(Features) bool
}

func always(Features) bool { return true }

var staticSitemapPages = []sitemapPage{
	{"", "weekly", 1.0, always},
	{"/about", "monthly", 0.8, always},
	{"/services", "monthly", 0.9, always},
	{"/team", "monthly", 0.7, func(f Features) bool { return f.Team }},
	{"/contact", "monthly", 0.8, always},
	{"/faq", "monthly", 0.6, func(f Features) bool { return f.FAQ }},
	{"/blog", "weekly", 0.8, func(f Features) bool { return f.Blog }},
}

// buildSitemap lists static pages, then services, then published posts.
// Static pages and services carry the snapshot load date as lastmod, posts their publish date.
func (h *Handler) buildSitemap(snap *content.Snapshot) urlSet {
	base := h.opts.SiteURL
	loaded := snap.LoadedAt
	if loaded.IsZero() {
		loaded = h.now()
	}
	lastmod := loaded.UTC().Format("2006-01-02")
	prio := func(p float64) string { return strconv.FormatFloat(p, 'f', 1, 64) }

	set := urlSet{XMLNS: sitemapNS}
	for _, pg := range staticSitemapPages {
		if !pg.enabled(h.opts.Features) {
			continue
		}
		set.URLs = append(set.URLs, sitemapURL{Loc: base + pg.path, LastMod: lastmod, ChangeFreq: pg.freq, Priority: prio(pg.priority)})
	}
	for _, s := range sortedServices(snap.Docs.Services) {
		set.URLs = append(set.URLs, sitemapURL{
			Loc: base + "/services/" + s.Slug.Current, LastMod: lastmod, ChangeFreq: "monthly", Priority: prio(0.7),
		})
	}
	if h.opts.Features.Blog {
		for _, p := range newestFirst(snap.Docs.PublishedPosts(h.now())) {
			set.URLs = append(set.URLs, sitemapURL{
				Loc: base + "/blog/" + p.Slug.Current, LastMod: p.PublishDate.UTC().Format("2006-01-02"), ChangeFreq: "monthly", Priority: prio(0.6),
			})
		}
	}
	return set
}

func (h *Handler) sitemap(w http.ResponseWriter, r *http.Request, snap *content.Snapshot) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(h.buildSitemap(snap)); err != nil {
		h.logger.Error(r.Context(), err, "sitemap encode failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	buf.WriteByte('\n')

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Cache-Control", h.opts.OtherCacheControl)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) robots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", h.opts.OtherCacheControl)
	_, _ = w.Write([]byte("User-agent: *\nAllow: /\nDisallow: /api/\n\nSitemap: " + h.opts.SiteURL + "/sitemap.xml\n"))
}
