package content

import (
	"strings"

	"github.com/greenleafcpa/greenleaf-web/internal/pathutil"
	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

// ValidationOptions controls which checks ValidateSnapshot performs.
type ValidationOptions struct {
	// MinServices rejects snapshots with fewer services. 0 disables the check.
	MinServices int

	// RequireSettings fails validation when siteSettings is missing or has no company name.
	RequireSettings bool
}

// DefaultValidationOptions returns the recommended production defaults.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MinServices:     1,
		RequireSettings: true,
	}
}

// ValidateSnapshot performs sanity checks on a snapshot before it is swapped
// into the active Manager, so a half-edited or empty dataset is never served.
// Returns nil if all checks pass, or an error describing the first failure.
func ValidateSnapshot(snap *Snapshot, opts ValidationOptions) error {
	if snap == nil {
		return xerrors.New("validate: snapshot is nil")
	}
	d := snap.Docs
	if d == nil {
		return xerrors.New("validate: snapshot has no documents")
	}

	if opts.RequireSettings {
		if d.Settings == nil {
			return xerrors.New("validate: siteSettings document is missing")
		}
		if strings.TrimSpace(d.Settings.CompanyName) == "" {
			return xerrors.New("validate: siteSettings has no companyName")
		}
	}

	if opts.MinServices > 0 && len(d.Services) < opts.MinServices {
		return xerrors.Newf("validate: snapshot has %d services, minimum is %d", len(d.Services), opts.MinServices)
	}

	// slugs become URL paths, so they must be present and unique per type
	seen := make(map[string]bool, len(d.Services))
	for _, s := range d.Services {
		if err := checkSlug("service", s.Slug.Current, seen); err != nil {
			return err
		}
	}
	seen = make(map[string]bool, len(d.Posts))
	for _, p := range d.Posts {
		if err := checkSlug("post", p.Slug.Current, seen); err != nil {
			return err
		}
		if p.PublishDate.IsZero() {
			return xerrors.Newf("validate: post %q has no publishDate", p.Slug.Current)
		}
	}
	seen = make(map[string]bool, len(d.Team))
	for _, m := range d.Team {
		if err := checkSlug("team member", m.Slug.Current, seen); err != nil {
			return err
		}
	}

	return nil
}

func checkSlug(kind, slug string, seen map[string]bool) error {
	if slug == "" {
		return xerrors.Newf("validate: %s with empty slug", kind)
	}
	// the site 404s anything that is not a slug, so such a document could never be reached
	if !pathutil.IsSlug(slug) {
		return xerrors.Newf("validate: %s slug %q is not URL safe", kind, slug)
	}
	if seen[slug] {
		return xerrors.Newf("validate: duplicate %s slug %q", kind, slug)
	}
	seen[slug] = true
	return nil
}
