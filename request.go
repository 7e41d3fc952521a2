package parksapi

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Request describes one HTTP call produced by a destination's wrapped method.
// Method and URL are mandatory; everything else is optional. Bus handlers may
// rewrite any field in place during the "request" broadcast.
type Request struct {
	Method      string
	URL         string
	Headers     http.Header
	QueryParams url.Values
	Body        []byte

	// Tags are free-form labels matched by injection filters.
	Tags []string

	// Response-side callbacks, invoked after a successful network call in
	// the order OnBytes, OnText, OnJSON.
	OnBytes func(body []byte)
	OnText  func(body string)
	OnJSON  func(v interface{})

	// Owning identity, set by the interceptor before queueing. Part of the
	// cache key so unrelated destinations never collide.
	ClassName  string
	MethodName string
}

// Validate reports whether the request carries the mandatory fields.
// Failures here happen synchronously, before anything is queued.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is nil", ErrMalformedRequest)
	}
	if strings.TrimSpace(r.Method) == "" {
		return fmt.Errorf("%w: missing method", ErrMalformedRequest)
	}
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: missing url", ErrMalformedRequest)
	}
	return nil
}

// CacheKey derives the default cache key: a hash over owning identity,
// method, URL, canonical headers and body.
func (r *Request) CacheKey() string {
	h := fnv.New64a()
	h.Write([]byte(r.ClassName))
	h.Write([]byte{0})
	h.Write([]byte(r.MethodName))
	h.Write([]byte{0})
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.fullURL()))

	if len(r.Headers) > 0 {
		names := make([]string, 0, len(r.Headers))
		for name := range r.Headers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			h.Write([]byte{0})
			h.Write([]byte(name))
			h.Write([]byte{1})
			h.Write([]byte(strings.Join(r.Headers[name], ",")))
		}
	}

	if len(r.Body) > 0 {
		bodyHash := sha256.Sum256(r.Body)
		h.Write(bodyHash[:])
	}

	return fmt.Sprintf("%x", h.Sum64())
}

// fullURL merges QueryParams into the URL string.
func (r *Request) fullURL() string {
	if len(r.QueryParams) == 0 {
		return r.URL
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	q := u.Query()
	for name, values := range r.QueryParams {
		for _, v := range values {
			q.Add(name, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Hostname returns the host portion of the URL, or "" if unparsable.
func (r *Request) Hostname() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Endpoint extracts a simplified host+path identifier for metrics and errors.
func (r *Request) Endpoint() string {
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return "unknown"
	}

	var builder strings.Builder
	builder.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		builder.WriteString(u.Path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}

// HasTag reports whether the request carries the given tag.
func (r *Request) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Response is the resolved result of a queued request. Bus handlers may
// rewrite Body and Header in place during the "response" broadcast.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
	FromCache  bool
}

// storedResponse is the serialized form persisted by the cache stores.
type storedResponse struct {
	StatusCode int         `json:"statusCode"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	URL        string      `json:"url,omitempty"`
}
