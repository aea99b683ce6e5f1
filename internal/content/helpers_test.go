package content

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/greenleafcpa/greenleaf-web/internal/cms"
)

// testDocs returns a snapshot document set that passes default validation.
func testDocs(services ...string) *cms.Docs {
	if len(services) == 0 {
		services = []string{"tax-preparation"}
	}
	d := &cms.Docs{
		Settings: &cms.SiteSettings{CompanyName: "Greenleaf & Associates CPA"},
		Posts: []cms.Post{{
			ID:          "p1",
			Title:       "Year-End Tax Checklist",
			Slug:        cms.Slug{Current: "year-end-checklist"},
			PublishDate: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		}},
	}
	for i, s := range services {
		d.Services = append(d.Services, cms.Service{
			ID:    fmt.Sprintf("s%d", i),
			Title: s,
			Slug:  cms.Slug{Current: s},
			Order: i + 1,
		})
	}
	return d
}

// rawDocs marshals docs the way a compacted CMS result looks.
func rawDocs(t *testing.T, d *cms.Docs) []byte {
	t.Helper()
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal docs: %v", err)
	}
	return b
}

func testSnapshot(t *testing.T, services ...string) *Snapshot {
	t.Helper()
	snap, err := NewSnapshot(rawDocs(t, testDocs(services...)), SourceCMS)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return snap
}
