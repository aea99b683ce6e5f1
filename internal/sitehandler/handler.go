package sitehandler

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/greenleafcpa/greenleaf-web/internal/cms"
	"github.com/greenleafcpa/greenleaf-web/internal/content"
	"github.com/greenleafcpa/greenleaf-web/internal/log"
)

// page template names, each parsed from <name>.html with layout.html and partials.html
const (
	pageHome     = "home"
	pageAbout    = "about"
	pageServices = "services"
	pageService  = "service"
	pageTeam     = "team"
	pageBlog     = "blog"
	pagePost     = "post"
	pageFAQ      = "faq"
	pageContact  = "contact"
	pageNotFound = "notfound"
)

var pageNames = []string{
	pageHome, pageAbout, pageServices, pageService, pageTeam,
	pageBlog, pagePost, pageFAQ, pageContact, pageNotFound,
}

type Handler struct {
	opts   Options
	logger log.Logger
	pages  map[string]*template.Template
}

func New(opts *Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	h := &Handler{opts: *opts, logger: opts.Logger, pages: make(map[string]*template.Template, len(pageNames))}

	funcs := h.funcs()
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(opts.Templates, "layout.html", "partials.html", name+".html")
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s template: %v", ErrInvalidOptions, name, err)
		}
		h.pages[name] = t
	}
	return h, nil
}

// Register mounts every page, static files, sitemap.xml and robots.txt on r,
// and makes the handler the router's 404 and 405 fallback.
func (h *Handler) Register(r chi.Router) {
	get := func(pattern string, fn http.HandlerFunc) {
		r.Get(pattern, fn)
		r.Head(pattern, fn)
	}

	get("/", h.withSnapshot(h.home))
	get("/about", h.withSnapshot(h.about))
	get("/services", h.withSnapshot(h.services))
	get("/services/{slug}", h.withSnapshot(h.service))
	get("/contact", h.withSnapshot(h.contact))
	if h.opts.Features.Team {
		get("/team", h.withSnapshot(h.team))
	}
	if h.opts.Features.Blog {
		get("/blog", h.withSnapshot(h.blog))
		get("/blog/{slug}", h.withSnapshot(h.post))
	}
	if h.opts.Features.FAQ {
		get("/faq", h.withSnapshot(h.faq))
	}

	get("/sitemap.xml", h.withSnapshot(h.sitemap))
	get("/robots.txt", h.robots)
	get("/static/*", h.static)
	get("/favicon.ico", h.favicon)

	r.NotFound(h.notFound)
	r.MethodNotAllowed(h.methodNotAllowed)
}

type snapshotHandler func(w http.ResponseWriter, r *http.Request, snap *content.Snapshot)

// withSnapshot serves the maintenance page when no content snapshot is active.
func (h *Handler) withSnapshot(fn snapshotHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := h.opts.Content.Get()
		if !ok {
			h.serveMaintenance(w, r)
			return
		}
		fn(w, r, snap)
	}
}

// render executes a page into a buffer so template errors become a clean 500.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data *pageData) {
	t, ok := h.pages[name]
	if !ok {
		h.logger.Error(r.Context(), fmt.Errorf("unknown page template %q", name), "render failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Error(r.Context(), err, "render failed", "page", name)
		w.Header().Set("Cache-Control", "no-store")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status == http.StatusOK {
		w.Header().Set("Cache-Control", h.opts.HTMLCacheControl)
	} else {
		// avoid caching error pages
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) static(w http.ResponseWriter, r *http.Request) {
	file, ok := resolveStatic(chi.URLParam(r, "*"), h.opts.Static)
	if !ok {
		h.notFound(w, r)
		return
	}
	if cc := cacheControlForFile(file, &h.opts); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	http.ServeFileFS(w, r, h.opts.Static, file)
}

func (h *Handler) favicon(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/static/favicon.svg", http.StatusPermanentRedirect)
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, HEAD")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusMethodNotAllowed)
}

func (h *Handler) serveMaintenance(w http.ResponseWriter, r *http.Request) {
	// maintenance should never be cached
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "60")

	serveFileWithStatus(w, r, http.StatusServiceUnavailable, h.opts.FallbackFS, h.opts.MaintenanceFile)
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	// API clients get a plain 404, not a themed page
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Cache-Control", "no-store")
		http.Error(w, "404 page not found", http.StatusNotFound)
		return
	}

	// prefer the themed 404 while content is available
	if snap, ok := h.opts.Content.Get(); ok {
		h.render(w, r, http.StatusNotFound, pageNotFound, h.newPage(r, snap, "Page Not Found", ""))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if existsFile(h.opts.FallbackFS, h.opts.Fallback404File) {
		serveFileWithStatus(w, r, http.StatusNotFound, h.opts.FallbackFS, h.opts.Fallback404File)
		return
	}

	// last resort: plain text
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 page not found"))
}

// settingsOf never returns nil so templates can dereference freely.
func settingsOf(d *cms.Docs) *cms.SiteSettings {
	if d == nil || d.Settings == nil {
		return &cms.SiteSettings{}
	}
	return d.Settings
}

// we want to serve a file but force an HTTP status code (404/503)
// but http.ServeFileFS writes a status code on its own so wrapping
// ResponseWriter and overriding the first WriteHeader call here
type statusOverrideWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusOverrideWriter) WriteHeader(code int) {
	if w.wroteHeader {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(w.status)
}

func (w *statusOverrideWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(w.status)
	}
	return w.ResponseWriter.Write(b)
}

func serveFileWithStatus(w http.ResponseWriter, r *http.Request, status int, fsys fs.FS, name string) {
	sw := &statusOverrideWriter{ResponseWriter: w, status: status}
	http.ServeFileFS(sw, r, fsys, name)
}
