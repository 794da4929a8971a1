// Package remotetest provides a fake remote content store for tests. It
// serves the login and token endpoints, the paginated catalog, title
// details, checksum documents, images, and file content with byte range
// support. Failures can be injected per path.
package remotetest

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
)

// A File is one downloadable file of a Title.
type File struct {
	ID       string
	Name     string
	Platform string // defaults to "windows"
	Language string // defaults to "en"
	Class    string // defaults to "installer"
	Source   string
	Version  string
	Content  []byte
	// Path is the name the file is served under. It defaults to Name.
	Path string

	// MD5 is advertised in the catalog. If empty the real checksum of
	// Content is used, unless NoMD5 is set.
	MD5   string
	NoMD5 bool
	// ChecksumDoc publishes an XML checksum document for the file.
	ChecksumDoc bool
}

// A Title is one owned product.
type Title struct {
	ID         string
	Name       string
	Hidden     bool
	Updated    bool
	Changelog  string
	Cover      []byte // served as cover.jpg if not nil
	Background []byte // served as background.jpg if not nil
	Files      []File
}

// Server is a fake remote content store.
type Server struct {
	*httptest.Server

	// Password is the password the login endpoint accepts, for any user
	// name. If empty, requests are not checked for a token.
	Password string
	// TokenLifetime is reported as expires_in on issued tokens.
	TokenLifetime time.Duration
	// PageSize is the number of titles per catalog page.
	PageSize int
	// NoRanges makes file requests ignore Range headers.
	NoRanges bool

	mu       sync.Mutex
	titles   []Title
	tokens   map[string]bool
	refresh  map[string]bool
	issued   int
	failures map[string][]int // path to queued failure statuses
	hits     map[string]int
	ranges   map[string][]string
}

// New starts a fake remote store. Call Close when finished.
func New() *Server {
	s := &Server{
		TokenLifetime: time.Hour,
		PageSize:      2,
		tokens:        make(map[string]bool),
		refresh:       make(map[string]bool),
		failures:      make(map[string][]int),
		hits:          make(map[string]int),
		ranges:        make(map[string][]string),
	}
	r := httprouter.New()
	r.POST("/auth/login", s.login)
	r.POST("/auth/token", s.token)
	r.GET("/account/titles", s.authed(s.listTitles))
	r.GET("/account/titles/:id", s.authed(s.getTitle))
	r.GET("/files/:id/:name", s.authed(s.getFile))
	r.HEAD("/files/:id/:name", s.authed(s.getFile))
	r.GET("/checksums/:id/:name", s.authed(s.getChecksum))
	r.GET("/images/:id/:name", s.getImage)
	s.Server = httptest.NewServer(s.wrap(r))
	return s
}

// SetTitles replaces the catalog.
func (s *Server) SetTitles(titles ...Title) {
	s.mu.Lock()
	s.titles = titles
	s.mu.Unlock()
}

// FailNext makes the next requests for path fail with the given statuses,
// one per request, in order. The path may include a query string to only
// match requests with exactly that query.
func (s *Server) FailNext(path string, statuses ...int) {
	s.mu.Lock()
	s.failures[path] = append(s.failures[path], statuses...)
	s.mu.Unlock()
}

// Hits returns how many requests were made for path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Ranges returns the Range headers sent with requests for path. Requests
// without one are recorded as "".
func (s *Server) Ranges(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges[path]...)
}

// RevokeTokens invalidates every access token issued so far. Refresh tokens
// remain good.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	s.tokens = make(map[string]bool)
	s.mu.Unlock()
}

// FilePath returns the path a file is served from.
func FilePath(titleID, name string) string {
	return "/files/" + titleID + "/" + name
}

// MD5 returns the hex checksum of content.
func MD5(content []byte) string {
	h := md5.Sum(content)
	return hex.EncodeToString(h[:])
}

// wrap records every request and serves any queued failure.
func (s *Server) wrap(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		s.mu.Lock()
		s.hits[path]++
		s.ranges[path] = append(s.ranges[path], r.Header.Get("Range"))
		var status int
		for _, key := range []string{r.URL.RequestURI(), path} {
			if q := s.failures[key]; len(q) > 0 {
				status = q[0]
				s.failures[key] = q[1:]
				break
			}
		}
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) authed(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.Password != "" {
			tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			s.mu.Lock()
			ok := s.tokens[tok]
			s.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		h(w, r, ps)
	}
}

func (s *Server) issue(w http.ResponseWriter) {
	s.mu.Lock()
	s.issued++
	access := fmt.Sprintf("access-%d", s.issued)
	refresh := fmt.Sprintf("refresh-%d", s.issued)
	s.tokens[access] = true
	s.refresh[refresh] = true
	s.mu.Unlock()
	writeJSON(w, map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    int64(s.TokenLifetime / time.Second),
		"user_id":       "1",
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	r.ParseForm()
	if s.Password == "" || r.Form.Get("password") != s.Password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.issue(w)
}

func (s *Server) token(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	r.ParseForm()
	s.mu.Lock()
	ok := s.refresh[r.Form.Get("refresh_token")]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.issue(w)
}

func (s *Server) listTitles(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	page, _ := strconv.Atoi(r.FormValue("page"))
	if page < 1 {
		page = 1
	}
	s.mu.Lock()
	titles := s.titles
	s.mu.Unlock()
	size := s.PageSize
	if size < 1 {
		size = len(titles) + 1
	}
	total := (len(titles) + size - 1) / size
	if total == 0 {
		total = 1
	}
	var products []map[string]interface{}
	for i := (page - 1) * size; i < page*size && i < len(titles); i++ {
		t := titles[i]
		products = append(products, map[string]interface{}{
			"id":      t.ID,
			"title":   t.Name,
			"hidden":  t.Hidden,
			"updated": t.Updated,
		})
	}
	if products == nil {
		products = []map[string]interface{}{}
	}
	writeJSON(w, map[string]interface{}{
		"page":        page,
		"total_pages": total,
		"products":    products,
	})
}

func (s *Server) find(id string) (Title, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.titles {
		if t.ID == id {
			return t, true
		}
	}
	return Title{}, false
}

func (s *Server) findFile(id, name string) (File, bool) {
	t, ok := s.find(id)
	if !ok {
		return File{}, false
	}
	for _, f := range t.Files {
		if withDefault(f.Path, f.Name) == name {
			return f, true
		}
	}
	return File{}, false
}

func (s *Server) getTitle(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	t, ok := s.find(ps.ByName("id"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var downloads []map[string]interface{}
	for i, f := range t.Files {
		d := map[string]interface{}{
			"id":       f.ID,
			"name":     f.Name,
			"os":       withDefault(f.Platform, "windows"),
			"language": withDefault(f.Language, "en"),
			"type":     withDefault(f.Class, "installer"),
			"size":     len(f.Content),
			"url":      FilePath(t.ID, withDefault(f.Path, f.Name)),
		}
		if f.ID == "" {
			d["id"] = fmt.Sprintf("%s-%d", t.ID, i)
		}
		if f.Source != "" {
			d["source"] = f.Source
		}
		if f.Version != "" {
			d["version"] = f.Version
		}
		if !f.NoMD5 {
			d["md5"] = withDefault(f.MD5, MD5(f.Content))
		}
		if f.ChecksumDoc {
			d["checksum_url"] = "/checksums/" + t.ID + "/" + withDefault(f.Path, f.Name)
		}
		downloads = append(downloads, d)
	}
	if downloads == nil {
		downloads = []map[string]interface{}{}
	}
	body := map[string]interface{}{
		"id":        t.ID,
		"title":     t.Name,
		"hidden":    t.Hidden,
		"updated":   t.Updated,
		"changelog": t.Changelog,
		"downloads": downloads,
	}
	if t.Cover != nil {
		body["cover"] = "/images/" + t.ID + "/cover.jpg"
	}
	if t.Background != nil {
		body["background"] = "/images/" + t.ID + "/background.jpg"
	}
	writeJSON(w, body)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, ok := s.findFile(ps.ByName("id"), ps.ByName("name"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if s.NoRanges {
		w.Header().Set("Content-Length", strconv.Itoa(len(f.Content)))
		if r.Method != http.MethodHead {
			w.Write(f.Content)
		}
		return
	}
	http.ServeContent(w, r, f.Name, time.Time{}, bytes.NewReader(f.Content))
}

func (s *Server) getChecksum(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, ok := s.findFile(ps.ByName("id"), ps.ByName("name"))
	if !ok || !f.ChecksumDoc {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, `<file name="%s" md5="%s" total_size="%d" chunks="1"></file>`,
		f.Name, MD5(f.Content), len(f.Content))
}

func (s *Server) getImage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	t, ok := s.find(ps.ByName("id"))
	var data []byte
	switch ps.ByName("name") {
	case "cover.jpg":
		data = t.Cover
	case "background.jpg":
		data = t.Background
	}
	if !ok || data == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
