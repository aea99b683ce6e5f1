package cms

import "time"

// Slug is a CMS slug field.
type Slug struct {
	Current string `json:"current"`
}

// Image is a CMS image field. Asset.Ref looks like "image-<id>-<w>x<h>-<ext>".
type Image struct {
	Asset struct {
		Ref string `json:"_ref"`
	} `json:"asset"`
}

// Ref returns the asset reference, or "" for a nil image.
func (i *Image) Ref() string {
	if i == nil {
		return ""
	}
	return i.Asset.Ref
}

type Service struct {
	ID               string   `json:"_id"`
	Title            string   `json:"title"`
	Slug             Slug     `json:"slug"`
	Icon             string   `json:"icon,omitempty"`
	ShortDescription string   `json:"shortDescription,omitempty"`
	Description      string   `json:"description,omitempty"`
	Image            *Image   `json:"image,omitempty"`
	Features         []string `json:"features,omitempty"`
	Order            int      `json:"order"`
}

type TeamMember struct {
	ID              string   `json:"_id"`
	Name            string   `json:"name"`
	Slug            Slug     `json:"slug"`
	Title           string   `json:"title,omitempty"`
	Credentials     []string `json:"credentials,omitempty"`
	Bio             string   `json:"bio,omitempty"`
	Photo           *Image   `json:"photo,omitempty"`
	Specializations []string `json:"specializations,omitempty"`
	Email           string   `json:"email,omitempty"`
	LinkedIn        string   `json:"linkedin,omitempty"`
	Order           int      `json:"order"`
}

type Testimonial struct {
	ID          string `json:"_id"`
	ClientName  string `json:"clientName"`
	ClientTitle string `json:"clientTitle,omitempty"`
	Company     string `json:"company,omitempty"`
	Quote       string `json:"quote"`
	Rating      int    `json:"rating"`
	Photo       *Image `json:"photo,omitempty"`
	Featured    bool   `json:"featured"`
}

type Post struct {
	ID            string    `json:"_id"`
	Title         string    `json:"title"`
	Slug          Slug      `json:"slug"`
	PublishDate   time.Time `json:"publishDate"`
	Excerpt       string    `json:"excerpt,omitempty"`
	Content       string    `json:"content,omitempty"`
	FeaturedImage *Image    `json:"featuredImage,omitempty"`
	Categories    []string  `json:"categories,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	ReadTime      int       `json:"readTime,omitempty"`
}

// Published reports whether the post is visible at now.
func (p Post) Published(now time.Time) bool {
	return !p.PublishDate.After(now)
}

type FAQ struct {
	ID       string `json:"_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category,omitempty"`
	Order    int    `json:"order"`
}

type SocialLinks struct {
	Facebook  string `json:"facebook,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
	Instagram string `json:"instagram,omitempty"`
}

type BusinessHours struct {
	Day  string `json:"day"`
	Time string `json:"time"`
}

type SiteSettings struct {
	CompanyName   string          `json:"companyName"`
	Tagline       string          `json:"tagline,omitempty"`
	Logo          *Image          `json:"logo,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Email         string          `json:"email,omitempty"`
	Address       string          `json:"address,omitempty"`
	SocialLinks   SocialLinks     `json:"socialLinks"`
	BusinessHours []BusinessHours `json:"businessHours,omitempty"`
}

// Docs is every document set the site renders from, fetched in one query.
type Docs struct {
	Settings     *SiteSettings `json:"settings"`
	Services     []Service     `json:"services"`
	Team         []TeamMember  `json:"team"`
	Testimonials []Testimonial `json:"testimonials"`
	Posts        []Post        `json:"posts"`
	FAQs         []FAQ         `json:"faqs"`
}

// Service returns the service with the given slug.
func (d *Docs) Service(slug string) (Service, bool) {
	for _, s := range d.Services {
		if s.Slug.Current == slug {
			return s, true
		}
	}
	return Service{}, false
}

// Post returns the post with the given slug if it is published at now.
func (d *Docs) Post(slug string, now time.Time) (Post, bool) {
	for _, p := range d.Posts {
		if p.Slug.Current == slug && p.Published(now) {
			return p, true
		}
	}
	return Post{}, false
}

// PublishedPosts returns posts visible at now, newest first as stored.
func (d *Docs) PublishedPosts(now time.Time) []Post {
	out := make([]Post, 0, len(d.Posts))
	for _, p := range d.Posts {
		if p.Published(now) {
			out = append(out, p)
		}
	}
	return out
}

// FeaturedTestimonials returns testimonials flagged featured.
func (d *Docs) FeaturedTestimonials() []Testimonial {
	var out []Testimonial
	for _, t := range d.Testimonials {
		if t.Featured {
			out = append(out, t)
		}
	}
	return out
}
