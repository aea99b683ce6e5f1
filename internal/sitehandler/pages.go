package sitehandler

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greenleafcpa/greenleaf-web/internal/cms"
	"github.com/greenleafcpa/greenleaf-web/internal/content"
	"github.com/greenleafcpa/greenleaf-web/internal/pathutil"
)

const (
	homePostCount     = 3
	relatedCount      = 3
	homeServicesCount = 6
)

type navItem struct {
	Label string
	Href  string
}

type stat struct {
	Value string
	Label string
}

var firmStats = []stat{
	{"25+", "Years of Experience"},
	{"500+", "Clients Served"},
	{"99%", "Client Satisfaction"},
	{"$50M+", "Tax Savings Delivered"},
}

// pageData is the single model every template renders from.
type pageData struct {
	Title        string
	Description  string
	Path         string
	CanonicalURL string
	Year         int

	Settings *cms.SiteSettings
	Features Features
	Nav      []navItem
	Stats    []stat

	Services     []cms.Service
	Service      *cms.Service
	Related      []cms.Service
	Team         []cms.TeamMember
	Testimonials []cms.Testimonial
	Posts        []cms.Post
	Post         *cms.Post
	FAQs         []cms.FAQ
}

func (h *Handler) nav() []navItem {
	f := h.opts.Features
	items := []navItem{{"Home", "/"}, {"About", "/about"}, {"Services", "/services"}}
	if f.Team {
		items = append(items, navItem{"Team", "/team"})
	}
	if f.Blog {
		items = append(items, navItem{"Blog", "/blog"})
	}
	if f.FAQ {
		items = append(items, navItem{"FAQ", "/faq"})
	}
	return append(items, navItem{"Contact", "/contact"})
}

func (h *Handler) newPage(r *http.Request, snap *content.Snapshot, title, description string) *pageData {
	return &pageData{
		Title:        title,
		Description:  description,
		Path:         r.URL.Path,
		CanonicalURL: h.opts.SiteURL + r.URL.Path,
		Year:         h.opts.Now().Year(),
		Settings:     settingsOf(snap.Docs),
		Features:     h.opts.Features,
		Nav:          h.nav(),
		Stats:        firmStats,
	}
}

func (h *Handler) now() time.Time { return h.opts.Now() }

func (h *Handler) home(w http.ResponseWriter, r *http.Request, snap *content.Snapshot) {
	d := snap.Docs
	p := h.newPage(r, snap, "", settingsOf(d).Tagline)
	p.Services = firstN(sortedServices(d.Services), homeServicesCount)
	if h.opts.Features.Testimonials {
		p.Testimonials = d.FeaturedTestimonials()
	}
	if h.opts.Features.Blog {
		p.Posts = firstN(newestFirst(d.PublishedPosts(h.now())), homePostCount)
	}
	h.render(w, r, http.StatusOK, pageHome, p)
}

func (h *Handler) about(w http.ResponseWriter, r *http.Request, snap *content.Snapshot) {
	p := h.newPage(r, snap, "About Us", "Learn about our mission, values, and the experienced team behind our accounting services.")
	if h.opts.Features.Team {
		p.Team = sortedTeam(snap.Docs.Team)
	}
	h.render(w, r, http.StatusOK, pageAbout, p)
}

func (h *Handler) services(w http.ResponseWriter, r *http.Request, snap *content.Snapshot) {
	p := h.newPage(r, snap, "Services", "Tax preparation, bookkeeping, audit, and business advisory services.")
	p.Services = sortedServices(snap.Docs.Services)
	h.render(w, r, http.StatusOK, pageServices, p)
}

func (h *Handler) service(w http.ResponseWriter, r *http.Request, snap *content.Snapshot) {
	slug := chi.URLParam(r, "slug")
	if !pathutil.IsSlug(slug) {
		h.notFound(w, r)
		return
	}
	svc, ok := snap.Docs.Service(slug)
	if !ok {
		h.notFound(w, r)
		return
	}
	desc := svc.ShortDescription
	if desc == "" {
		desc = truncate(svc.Description, 160)
	}
	p := h.newPage(r, snap, svc.Title, desc)
	p.Service = &svc
	for _, other := range sortedServices(snap.Docs.Services) {
		if other.ID != svc.ID && len(p.Related) < relatedCount {
			p.Related = append(p.Related, other)
		}
	}
	h.render(w, r, http.StatusOK, pageService, p)
}

func (h *Handler) team(w http.ResponseWriter, r *http.Request, snap *content.Snapshot) {
	p := h.newPage(r, snap, "Our Team", "Meet the CPAs and advisors behind our firm.")
	p.Team = sortedTeam(snap.Docs.Team)
	h.render(w, r, http.StatusOK, pageTeam, p)
}

func (h *Handler) blog(w http.ResponseWriter, r *http.Request, snap *content.Snapshot) {
	p := h.newPage(r, snap, "Blog", "Tax tips, financial guidance, and business insights.")
	p.Posts = newestFirst(snap.Docs.PublishedPosts(h.now()))
	h.render(w, r, http.StatusOK, pageBlog, p)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, snap *content.Snapshot) {
	slug := chi.URLParam(r, "slug")
	if !pathutil.IsSlug(slug) {
		h.notFound(w, r)
		return
	}
	post, ok := snap.Docs.Post(slug, h.now())
	if !ok {
		h.notFound(w, r)
		return
	}
	desc := post.Excerpt
	if desc == "" {
		desc = truncate(post.Content, 160)
	}
	p := h.newPage(r, snap, post.Title, desc)
	p.Post = &post
	h.render(w, r, http.StatusOK, pagePost, p)
}

func (h *Handler) faq(w http.ResponseWriter, r *http.Request, snap *content.Snapshot) {
	p := h.newPage(r, snap, "FAQ", "Answers to common questions about our services and process.")
	p.FAQs = append([]cms.FAQ(nil), snap.Docs.FAQs...)
	sort.SliceStable(p.FAQs, func(i, j int) bool { return p.FAQs[i].Order < p.FAQs[j].Order })
	h.render(w, r, http.StatusOK, pageFAQ, p)
}

func (h *Handler) contact(w http.ResponseWriter, r *http.Request, snap *content.Snapshot) {
	p := h.newPage(r, snap, "Contact Us", "Get in touch to schedule a consultation.")
	p.Services = sortedServices(snap.Docs.Services)
	h.render(w, r, http.StatusOK, pageContact, p)
}

func sortedServices(in []cms.Service) []cms.Service {
	out := append([]cms.Service(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func sortedTeam(in []cms.TeamMember) []cms.TeamMember {
	out := append([]cms.TeamMember(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func newestFirst(in []cms.Post) []cms.Post {
	sort.SliceStable(in, func(i, j int) bool { return in[i].PublishDate.After(in[j].PublishDate) })
	return in
}

func firstN[T any](in []T, n int) []T {
	if len(in) > n {
		return in[:n]
	}
	return in
}
