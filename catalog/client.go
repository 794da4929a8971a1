// Package catalog reads the list of owned titles and their downloadable files
// from the remote content store.
//
// The remote store has two JSON endpoints:
//
//	GET /account/titles?page=N   one page of the owned titles
//	GET /account/titles/{id}     the details and files of one title
//
// Locators in the responses may be relative to the base URL.
package catalog

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/transfer"
)

// A RemoteAuthError means the remote store rejected our credentials even
// after the session was refreshed.
type RemoteAuthError struct {
	URL string
	Err error
}

func (e *RemoteAuthError) Error() string {
	return fmt.Sprintf("remote store refused access to %s: %v", e.URL, e.Err)
}

func (e *RemoteAuthError) Unwrap() error { return e.Err }

// maxPages bounds the pagination walk in case the remote store misreports
// the page count.
const maxPages = 10000

// Filter restricts what the catalog returns.
type Filter struct {
	Platforms     []string // empty means every platform
	Languages     []string // empty means every language
	IncludeHidden bool

	// ResolveChecksums fetches the checksum document for any variant
	// which has a ChecksumURL but no MD5.
	ResolveChecksums bool
}

// Accept reports whether v passes the platform and language filters.
// Variants for any platform or any language always pass.
func (f Filter) Accept(v FileVariant) bool {
	return matches(f.Platforms, v.Platform) && matches(f.Languages, v.Language)
}

func matches(list []string, s string) bool {
	if len(list) == 0 || s == Any || s == "" {
		return true
	}
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}

// Client talks to the remote catalog.
type Client struct {
	base    *url.URL
	fetcher *transfer.Fetcher

	// Reauth is called once when the remote store rejects our session, to
	// get a fresh token before the request is tried again. May be nil.
	Reauth func(ctx context.Context) error
}

// NewClient returns a client for the catalog at baseURL. The fetcher should
// use the session's authenticated HTTP client.
func NewClient(baseURL string, fetcher *transfer.Fetcher) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, err
	}
	return &Client{base: u, fetcher: fetcher}, nil
}

// resolve turns a possibly relative locator into an absolute URL.
func (c *Client) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

// getJSON fetches a JSON object, refreshing the session and trying once more
// if the remote store rejects our token.
func (c *Client) getJSON(ctx context.Context, rawurl string) (*jason.Object, error) {
	v, err := c.fetcher.GetJSON(ctx, rawurl)
	if !errors.Is(err, transfer.ErrUnauthorized) {
		return v, err
	}
	if c.Reauth == nil {
		return nil, &RemoteAuthError{URL: rawurl, Err: err}
	}
	if rerr := c.Reauth(ctx); rerr != nil {
		return nil, &RemoteAuthError{URL: rawurl, Err: rerr}
	}
	v, err = c.fetcher.GetJSON(ctx, rawurl)
	if errors.Is(err, transfer.ErrUnauthorized) {
		return nil, &RemoteAuthError{URL: rawurl, Err: err}
	}
	return v, err
}

// FetchCatalog returns every owned title, in the order the remote store
// lists them. Only the summary fields are filled in; use FetchTitle for the
// files. Either every page is read or an error is returned.
func (c *Client) FetchCatalog(ctx context.Context, f Filter) ([]Title, error) {
	var result []Title
	seen := make(map[string]bool)
	totalPages := 1
	for page := 1; page <= totalPages; page++ {
		if page > maxPages {
			return nil, errors.Errorf("catalog has more than %d pages", maxPages)
		}
		u := c.resolve(fmt.Sprintf("account/titles?page=%d", page))
		v, err := c.getJSON(ctx, u)
		if err != nil {
			return nil, errors.Wrapf(err, "catalog page %d", page)
		}
		if n, err := v.GetInt64("total_pages"); err == nil && n > 0 {
			totalPages = int(n)
		}
		products, err := v.GetObjectArray("products")
		if err != nil {
			return nil, errors.Wrapf(err, "catalog page %d", page)
		}
		for _, p := range products {
			t, err := parseSummary(p)
			if err != nil {
				return nil, errors.Wrapf(err, "catalog page %d", page)
			}
			// titles may shift between pages while we walk them
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			if t.Hidden && !f.IncludeHidden {
				continue
			}
			result = append(result, t)
		}
	}
	return result, nil
}

func parseSummary(v *jason.Object) (Title, error) {
	var t Title
	var err error
	t.ID, err = getID(v)
	if err != nil {
		return t, err
	}
	t.Name, err = v.GetString("title")
	if err != nil {
		return t, errors.Errorf("title %s has no name", t.ID)
	}
	t.Hidden, _ = v.GetBoolean("hidden")
	t.Updated, _ = v.GetBoolean("updated")
	return t, nil
}

// getID reads the "id" field, which may be a string or a number.
func getID(v *jason.Object) (string, error) {
	if s, err := v.GetString("id"); err == nil {
		return s, nil
	}
	if n, err := v.GetInt64("id"); err == nil {
		return fmt.Sprintf("%d", n), nil
	}
	return "", errors.New("entry has no id")
}

// FetchTitle returns the details of one title, with the file variants that
// pass the filter.
func (c *Client) FetchTitle(ctx context.Context, id string, f Filter) (Title, error) {
	u := c.resolve("account/titles/" + url.PathEscape(id))
	v, err := c.getJSON(ctx, u)
	if err != nil {
		return Title{}, err
	}
	t, err := parseSummary(v)
	if err != nil {
		return Title{}, errors.Wrapf(err, "title %s", id)
	}
	t.CoverURL = c.optionalURL(v, "cover")
	t.BackgroundURL = c.optionalURL(v, "background")
	t.Changelog, _ = v.GetString("changelog")

	downloads, err := v.GetObjectArray("downloads")
	if err != nil {
		// a title with nothing to download
		return t, nil
	}
	for _, d := range downloads {
		fv, err := c.parseVariant(d)
		if err != nil {
			return Title{}, errors.Wrapf(err, "title %s", id)
		}
		if !f.Accept(fv) {
			continue
		}
		if fv.MD5 == "" && fv.ChecksumURL != "" && f.ResolveChecksums {
			sum, err := c.fetchChecksum(ctx, fv.ChecksumURL)
			if err != nil {
				// not fatal, the file is verified by size instead
				log.Printf("catalog: title %s file %s: checksum document: %v", id, fv.Name, err)
			} else {
				fv.MD5 = sum
			}
		}
		t.Variants = append(t.Variants, fv)
	}
	return t, nil
}

func (c *Client) optionalURL(v *jason.Object, key string) string {
	s, err := v.GetString(key)
	if err != nil || s == "" {
		return ""
	}
	return c.resolve(s)
}

func (c *Client) parseVariant(d *jason.Object) (FileVariant, error) {
	var fv FileVariant
	var err error
	fv.ID, err = getID(d)
	if err != nil {
		return fv, err
	}
	fv.Name, err = d.GetString("name")
	if err != nil || fv.Name == "" {
		return fv, errors.Errorf("file %s has no name", fv.ID)
	}
	loc, err := d.GetString("url")
	if err != nil || loc == "" {
		return fv, errors.Errorf("file %s has no url", fv.ID)
	}
	fv.URL = c.resolve(loc)
	fv.Platform = stringOr(d, "os", Any)
	fv.Language = stringOr(d, "language", Any)
	fv.Class = stringOr(d, "type", Installer)
	if fv.Class != Extra {
		fv.Source = stringOr(d, "source", Standalone)
	}
	fv.MD5 = strings.ToLower(stringOr(d, "md5", ""))
	fv.Size, _ = d.GetInt64("size")
	fv.Version = stringOr(d, "version", "")
	if s := stringOr(d, "checksum_url", ""); s != "" {
		fv.ChecksumURL = c.resolve(s)
	}
	return fv, nil
}

func stringOr(v *jason.Object, key, def string) string {
	s, err := v.GetString(key)
	if err != nil || s == "" {
		return def
	}
	return s
}

// checksumDoc is the XML checksum document the remote store keeps for
// installer files, e.g.
//
//	<file name="setup.exe" md5="..." total_size="1234" chunks="2">...</file>
type checksumDoc struct {
	XMLName   xml.Name `xml:"file"`
	Name      string   `xml:"name,attr"`
	MD5       string   `xml:"md5,attr"`
	TotalSize int64    `xml:"total_size,attr"`
}

func (c *Client) fetchChecksum(ctx context.Context, rawurl string) (string, error) {
	resp, err := c.fetcher.Get(ctx, rawurl, 0)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var doc checksumDoc
	err = xml.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc)
	if err != nil {
		return "", errors.Wrap(err, "decoding checksum document")
	}
	if doc.MD5 == "" {
		return "", errors.New("checksum document has no md5")
	}
	return strings.ToLower(doc.MD5), nil
}
