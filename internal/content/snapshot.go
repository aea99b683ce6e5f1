package content

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/greenleafcpa/greenleaf-web/internal/cms"
)

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceSeed    Source = "seed"
	SourceCMS     Source = "cms"
)

// Snapshot is an immutable view of every document the site renders.
type Snapshot struct {
	Docs     *cms.Docs
	Revision string
	Source   Source
	LoadedAt time.Time
}

// NewSnapshot decodes raw snapshot query output and stamps it with its revision.
func NewSnapshot(raw []byte, src Source) (*Snapshot, error) {
	docs, err := cms.DecodeDocs(raw)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Docs:     docs,
		Revision: Revision(raw),
		Source:   src,
	}, nil
}

// Revision is the hex sha256 of raw snapshot bytes.
func Revision(raw []byte) string {
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

// sameRevision compares revisions in constant time.
func sameRevision(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Counts is the number of documents of each kind in a snapshot.
type Counts struct {
	Services     int `json:"services"`
	Team         int `json:"team"`
	Testimonials int `json:"testimonials"`
	Posts        int `json:"posts"`
	FAQs         int `json:"faqs"`
}

func (s *Snapshot) Counts() Counts {
	if s == nil || s.Docs == nil {
		return Counts{}
	}
	return Counts{
		Services:     len(s.Docs.Services),
		Team:         len(s.Docs.Team),
		Testimonials: len(s.Docs.Testimonials),
		Posts:        len(s.Docs.Posts),
		FAQs:         len(s.Docs.FAQs),
	}
}
