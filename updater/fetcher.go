package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

// Fetch policy constants shared by every HTTPS request the updater
// makes; none of these are per-call configurable.
const (
	MaxRetries     = 3
	MaxRedirects   = 10
	RequestTimeout = 60 * time.Second
	userAgent      = "peerio-updater/1.0"

	// maxTextBytes bounds fetchText/fetchJSON/fetchAllJSONPages bodies to
	// 3*1024*1024 UTF-16 code units' worth of UTF-8 bytes in the worst case
	// (2 bytes/unit), since Go strings are UTF-8.
	maxTextBytes = 3 * 1024 * 1024 * 2
)

var linkNextRe = regexp.MustCompile(`<([^>]+)>\s*;\s*rel=(?:"([^"]+)"|'([^']+)'|([^;,\s]+))`)

// Fetcher issues hardened HTTPS GETs: it requires https throughout, caps
// redirects and retries, applies exponential backoff, and gates on
// Content-Type. Fetcher is stateless between calls; Transport may be set in
// tests to stub the network.
type Fetcher struct {
	Transport http.RoundTripper
}

// NewFetcher returns a Fetcher using the default HTTP transport.
func NewFetcher() *Fetcher { return &Fetcher{} }

func (f *Fetcher) httpClient() *http.Client {
	transport := f.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{
		Transport: transport,
		// Redirects are followed manually so https-enforcement and the
		// redirect cap apply to every hop.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Get performs a hardened GET of rawURL, optionally gating on
// expectedContentType (exact match after stripping `;`-parameters from the
// response Content-Type). The caller must close and drain the returned
// response body.
func (f *Fetcher) Get(ctx context.Context, rawURL, expectedContentType string) (*http.Response, error) {
	const op = "Get"
	if !strings.HasPrefix(rawURL, "https://") {
		return nil, newError(KindUnsafeRedirect, op, nil)
	}
	return f.get(ctx, rawURL, expectedContentType, 0, 0)
}

func (f *Fetcher) get(ctx context.Context, rawURL, expectedContentType string, tries, redirects int) (*http.Response, error) {
	const op = "Get"

	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, newError(KindRequestFailed, op, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient().Do(req)
	if err != nil {
		cause := newError(KindRequestFailed, op, err)
		if reqCtx.Err() == context.DeadlineExceeded {
			cause = newError(KindRequestTimeout, op, err)
		}
		return f.retry(ctx, rawURL, expectedContentType, tries, redirects, cause)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, newError(KindNotFound, op, nil)

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc := resp.Header.Get("Location")
		resp.Body.Close()
		if loc == "" {
			return nil, newError(KindRequestFailed, op, fmt.Errorf("redirect with no Location header"))
		}
		next, err := resolveURL(rawURL, loc)
		if err != nil {
			return nil, newError(KindRequestFailed, op, err)
		}
		redirects++
		if redirects > MaxRedirects {
			return nil, newError(KindTooManyRedirects, op, nil)
		}
		if !strings.HasPrefix(next, "https://") {
			return nil, newError(KindUnsafeRedirect, op, nil)
		}
		return f.get(ctx, next, expectedContentType, tries, redirects)

	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		cause := newError(KindRequestFailed, op, fmt.Errorf("unexpected status %d", resp.StatusCode))
		return f.retry(ctx, rawURL, expectedContentType, tries, redirects, cause)
	}

	if expectedContentType != "" {
		ct := resp.Header.Get("Content-Type")
		if idx := strings.IndexByte(ct, ';'); idx >= 0 {
			ct = ct[:idx]
		}
		ct = strings.TrimSpace(ct)
		if ct != expectedContentType {
			resp.Body.Close()
			return nil, newError(KindUnexpectedContentType, op, nil)
		}
	}

	return resp, nil
}

func (f *Fetcher) retry(ctx context.Context, rawURL, expectedContentType string, tries, redirects int, cause *Error) (*http.Response, error) {
	if tries >= MaxRetries {
		return nil, cause
	}
	backoff := time.Duration(100*(1<<uint(tries))) * time.Millisecond
	select {
	case <-ctx.Done():
		return nil, newError(KindRequestTimeout, "Get", ctx.Err())
	case <-time.After(backoff):
	}
	return f.get(ctx, rawURL, expectedContentType, tries+1, redirects)
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// FetchText drains rawURL as UTF-8 text, gated on expectedContentType
// (pass "" to skip the gate), failing with KindResponseTooLarge once the
// body exceeds the text-response cap.
func (f *Fetcher) FetchText(ctx context.Context, rawURL, expectedContentType string) (string, error) {
	const op = "FetchText"

	resp, err := f.Get(ctx, rawURL, expectedContentType)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxTextBytes+1))
	if err != nil {
		return "", newError(KindRequestFailed, op, err)
	}
	if len(buf) > maxTextBytes {
		return "", newError(KindResponseTooLarge, op, nil)
	}
	return string(buf), nil
}

// FetchJSON fetches rawURL as "application/json" and decodes it into out.
func (f *Fetcher) FetchJSON(ctx context.Context, rawURL string, out interface{}) error {
	const op = "FetchJSON"

	text, err := f.FetchText(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return newError(KindBadManifest, op, err)
	}
	return nil
}

// FetchAllJSONPages fetches rawURL as a JSON array, then follows any
// `Link: <url>; rel="next"` header (single or double quotes, case
// insensitive) to fetch and concatenate subsequent pages in order.
func (f *Fetcher) FetchAllJSONPages(ctx context.Context, rawURL string) ([]json.RawMessage, error) {
	var all []json.RawMessage
	next := rawURL
	for next != "" {
		page, nextURL, err := f.fetchJSONPage(ctx, next)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		next = nextURL
	}
	return all, nil
}

func (f *Fetcher) fetchJSONPage(ctx context.Context, rawURL string) ([]json.RawMessage, string, error) {
	const op = "FetchAllJSONPages"

	resp, err := f.Get(ctx, rawURL, "application/json")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxTextBytes+1))
	if err != nil {
		return nil, "", newError(KindRequestFailed, op, err)
	}
	if len(buf) > maxTextBytes {
		return nil, "", newError(KindResponseTooLarge, op, nil)
	}

	var page []json.RawMessage
	if err := json.Unmarshal(buf, &page); err != nil {
		return nil, "", newError(KindBadManifest, op, err)
	}

	next := parseNextLink(resp.Header.Get("Link"))
	if next != "" {
		if next, err = resolveURL(rawURL, next); err != nil {
			return nil, "", newError(KindRequestFailed, op, err)
		}
	}
	return page, next, nil
}

func parseNextLink(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		m := linkNextRe.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			continue
		}
		rel := m[2]
		if rel == "" {
			rel = m[3]
		}
		if rel == "" {
			rel = m[4]
		}
		if strings.EqualFold(rel, "next") {
			return m[1]
		}
	}
	return ""
}

// FetchFile streams rawURL into a new file at destPath. On any error the
// partial file is removed (best effort) before the error is returned.
func (f *Fetcher) FetchFile(ctx context.Context, rawURL, destPath string) (string, error) {
	const op = "FetchFile"

	resp, err := f.Get(ctx, rawURL, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return "", newError(KindRequestFailed, op, err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(destPath)
		return "", newError(KindRequestFailed, op, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return "", newError(KindRequestFailed, op, err)
	}

	return destPath, nil
}
