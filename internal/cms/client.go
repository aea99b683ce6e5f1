package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

const (
	// DefaultAPIVersion pins query semantics so CMS releases cannot change results under us.
	DefaultAPIVersion = "2024-01-01"

	// maxResponseBytes caps a query response; the whole site is well under this.
	maxResponseBytes = 8 << 20

	defaultTimeout = 15 * time.Second
)

// snapshotQuery returns every document set the site renders in one round trip.
// Posts are fetched regardless of publishDate; future posts are hidden at render time
// so the snapshot revision does not change as the clock moves.
const snapshotQuery = `{
  "settings": *[_type == "siteSettings"][0]{companyName, tagline, logo, phone, email, address, socialLinks, businessHours},
  "services": *[_type == "service"] | order(order asc){_id, title, slug, icon, shortDescription, description, image, features, order},
  "team": *[_type == "teamMember"] | order(order asc){_id, name, slug, title, credentials, bio, photo, specializations, email, linkedin, order},
  "testimonials": *[_type == "testimonial"]{_id, clientName, clientTitle, company, quote, rating, photo, featured},
  "posts": *[_type == "post"] | order(publishDate desc){_id, title, slug, publishDate, excerpt, content, featuredImage, categories, tags, readTime},
  "faqs": *[_type == "faq"] | order(order asc){_id, question, answer, category, order}
}`

// Options configures a Client.
type Options struct {
	ProjectID  string
	Dataset    string
	APIVersion string
	UseCDN     bool

	// Token is an optional read token for private datasets.
	Token string

	// HTTPClient overrides the default otelhttp-instrumented client.
	HTTPClient *http.Client

	// BaseURL overrides the computed API host, for tests.
	BaseURL string

	UserAgent string
}

// Client queries a Sanity dataset over the HTTP query API.
type Client struct {
	base      string
	dataset   string
	token     string
	userAgent string
	http      *http.Client
}

// New builds a Client. ProjectID and Dataset are required.
func New(opts Options) (*Client, error) {
	if opts.ProjectID == "" && opts.BaseURL == "" {
		return nil, xerrors.New("cms: project id is required")
	}
	if opts.Dataset == "" {
		return nil, xerrors.New("cms: dataset is required")
	}
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}

	base := opts.BaseURL
	if base == "" {
		host := "api"
		// authenticated requests bypass the CDN anyway, skip the redirect
		if opts.UseCDN && opts.Token == "" {
			host = "apicdn"
		}
		base = fmt.Sprintf("https://%s.%s.sanity.io", opts.ProjectID, host)
	}
	base = strings.TrimRight(base, "/") + "/v" + strings.TrimPrefix(opts.APIVersion, "v")

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "cms " + r.Method
				}),
			),
		}
	}

	return &Client{
		base:      base,
		dataset:   opts.Dataset,
		token:     opts.Token,
		userAgent: opts.UserAgent,
		http:      hc,
	}, nil
}

type queryResponse struct {
	Result json.RawMessage `json:"result"`
	Ms     int             `json:"ms"`
}

type errorResponse struct {
	Error struct {
		Description string `json:"description"`
		Type        string `json:"type"`
	} `json:"error"`
}

// Query runs groq with params and returns the raw result JSON.
// Param values are JSON encoded and passed as $name query parameters.
func (c *Client) Query(ctx context.Context, groq string, params map[string]any) (json.RawMessage, error) {
	u, err := c.queryURL(groq, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, xerrors.Wrap(err, "cms: build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(err, "cms: query")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, xerrors.Wrap(err, "cms: read response")
	}
	if len(body) > maxResponseBytes {
		return nil, xerrors.Newf("cms: response exceeds %d bytes", maxResponseBytes)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error.Description != "" {
			return nil, xerrors.Newf("cms: query returned %d: %s", resp.StatusCode, e.Error.Description)
		}
		return nil, xerrors.Newf("cms: query returned %d", resp.StatusCode)
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, xerrors.Wrap(err, "cms: decode response")
	}
	if len(qr.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return qr.Result, nil
}

// FetchSnapshotDocs returns the compacted raw result of the snapshot query.
// The bytes are stable for unchanged content and are what the revision hash covers.
func (c *Client) FetchSnapshotDocs(ctx context.Context) ([]byte, error) {
	raw, err := c.Query(ctx, snapshotQuery, nil)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, xerrors.Wrap(err, "cms: compact result")
	}
	return buf.Bytes(), nil
}

// DecodeDocs parses a snapshot query result.
func DecodeDocs(raw []byte) (*Docs, error) {
	var d Docs
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, xerrors.Wrap(err, "cms: decode docs")
	}
	return &d, nil
}

func (c *Client) queryURL(groq string, params map[string]any) (string, error) {
	q := url.Values{}
	q.Set("query", groq)

	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		b, err := json.Marshal(params[k])
		if err != nil {
			return "", xerrors.Wrapf(err, "cms: encode param %s", k)
		}
		q.Set("$"+k, string(b))
	}
	return c.base + "/data/query/" + url.PathEscape(c.dataset) + "?" + q.Encode(), nil
}
