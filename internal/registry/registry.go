// Package registry implements the "Managed client" component of spec.md
// §4.7: an HTTP client fronting a PEP 503 simple index, wrapped with
// automatic retries and a concurrency permit so many simultaneous
// downloads never overrun the host's file-descriptor or bandwidth budget.
// It is adapted from the teacher's index.go, generalized from a single
// global client/environment pair into an explicit, constructor-injected
// ManagedClient.
package registry

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"runtime"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/semaphore"

	"github.com/spindle-dev/spindle/internal/xerrors"
)

// DefaultIndexURL is the Python Package Index's PEP 503 simple endpoint.
const DefaultIndexURL = "https://pypi.org/simple"

// Link is a single href discovered on a simple-index page, along with any
// PEP 503 data-* attributes attached to it (hashes, yanked status).
type Link struct {
	Filename string
	URL      string
	Yanked   bool
	Hashes   map[string]string // algorithm -> hex digest, from data-<algorithm>-hash attributes
}

// ManagedClient is a retrying HTTP client bounded by a download
// concurrency permit: every request it issues, whether a simple-index page
// or a wheel body, goes through the same semaphore and retry policy so
// downloads never overrun the configured concurrency budget.
type ManagedClient struct {
	IndexURL string

	http *retryablehttp.Client
	sem  *semaphore.Weighted
}

// NewManagedClient builds a client with concurrency equal to
// runtime.GOMAXPROCS(0)*2 unless concurrency is positive.
func NewManagedClient(indexURL string, concurrency int) *ManagedClient {
	if indexURL == "" {
		indexURL = DefaultIndexURL
	}
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0) * 2
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil

	return &ManagedClient{
		IndexURL: indexURL,
		http:     rc,
		sem:      semaphore.NewWeighted(int64(concurrency)),
	}
}

// managed performs req under the concurrency permit with automatic retry.
func (c *ManagedClient) managed(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}
	return c.http.Do(rreq)
}

// Download performs a managed GET request for an arbitrary URL, such as a
// wheel location from a simple-index href. It goes through the same
// concurrency permit and retry policy as FetchLinks, so a wheel body fetch
// never bypasses the download budget a caller configured.
func (c *ManagedClient) Download(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.managed(ctx, req)
}

// RangeRequest performs a managed, byte-range-scoped GET against url, for
// formats like zip whose central directory lives at the end of the file and
// must be located before any entry inside it can be read. end < 0 requests
// every byte from start to the end of the resource.
func (c *ManagedClient) RangeRequest(ctx context.Context, url string, start, end int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if end >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	} else {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}
	return c.managed(ctx, req)
}

// FetchLinks retrieves and parses the simple-index page for a normalized
// project name.
func (c *ManagedClient) FetchLinks(ctx context.Context, normalizedName string) ([]Link, error) {
	endpoint := fmt.Sprintf("%s/%s/", strings.TrimRight(c.IndexURL, "/"), normalizedName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.New(xerrors.KindNetworkRequest, "registry.FetchLinks", err)
	}
	req.Header.Set("Accept", "application/vnd.pypi.simple.v1+html, text/html;q=0.5")

	res, err := c.managed(ctx, req)
	if err != nil {
		return nil, xerrors.New(xerrors.KindNetworkRequest, "registry.FetchLinks", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, xerrors.Sentinel(xerrors.KindPackageNotFound)
	default:
		return nil, xerrors.New(xerrors.KindNetworkRequest, "registry.FetchLinks", fmt.Errorf("unexpected status %s", res.Status))
	}

	return parseSimpleIndex(res.Body)
}

func parseSimpleIndex(r io.Reader) ([]Link, error) {
	var links []Link
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			// The simple-index HTML emitted by real indexes is frequently not
			// well-formed XML; treat any further decode error as end of stream,
			// the same tolerance the teacher's LinkIndex gives pip-style pages.
			break
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "a" {
			continue
		}

		link := Link{Hashes: map[string]string{}}
		for _, attr := range start.Attr {
			switch {
			case attr.Name.Local == "href":
				link.URL = attr.Value
			case attr.Name.Local == "yanked" || attr.Name.Local == "data-yanked":
				link.Yanked = true
			case strings.HasPrefix(attr.Name.Local, "data-") && strings.HasSuffix(attr.Name.Local, "-hash"):
				algorithm := strings.TrimSuffix(strings.TrimPrefix(attr.Name.Local, "data-"), "-hash")
				link.Hashes[algorithm] = attr.Value
			}
		}
		if link.URL == "" {
			continue
		}

		u, err := url.Parse(link.URL)
		if err != nil {
			continue
		}
		link.Filename = path.Base(u.Path)
		links = append(links, link)
	}

	return links, nil
}
