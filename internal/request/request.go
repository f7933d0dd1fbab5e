package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/psicash/internal/constants"
)

// QueryItem is one query parameter. Items keep their order and may repeat.
type QueryItem struct {
	Name  string
	Value string
}

// Mutator alters a finished request for a given attempt. Only test builds
// install one.
type Mutator interface {
	MutateRequest(attempt int, r *Request)
}

// Params describes a request before an attempt number is assigned.
type Params struct {
	Scheme     string
	Hostname   string
	Port       int
	Method     string
	Path       string // relative to /<api version>, e.g. "/refresh-state"
	Query      []QueryItem
	Header     http.Header
	AuthTokens []string
	Metadata   map[string]any
	Body       []byte
	Timeout    time.Duration
	UserAgent  string
	Mutator    Mutator
}

// Request is the finished descriptor handed to the transport.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
	Attempt int
}

// Builder assembles Requests from Params.
type Builder struct {
	params  Params
	header  http.Header
	attempt int
}

// NewBuilder copies p so later changes by the caller have no effect.
func NewBuilder(p Params) *Builder {
	b := &Builder{params: p, header: http.Header{}, attempt: 1}
	for k, vs := range p.Header {
		b.header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	b.params.Query = append([]QueryItem(nil), p.Query...)
	b.params.AuthTokens = append([]string(nil), p.AuthTokens...)
	b.params.Body = append([]byte(nil), p.Body...)
	md := make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		md[k] = v
	}
	b.params.Metadata = md
	return b
}

// SetAttempt records the 1-based attempt number.
func (b *Builder) SetAttempt(n int) *Builder {
	if n < 1 {
		n = 1
	}
	b.attempt = n
	return b
}

// Attempt returns the current attempt number.
func (b *Builder) Attempt() int {
	return b.attempt
}

// AddHeaders merges extra headers; headers already present are kept.
func (b *Builder) AddHeaders(extra map[string]string) *Builder {
	for k, v := range extra {
		key := http.CanonicalHeaderKey(k)
		if _, exists := b.header[key]; exists {
			continue
		}
		b.header.Set(key, v)
	}
	return b
}

// Request builds the descriptor for the current attempt.
func (b *Builder) Request() (*Request, error) {
	p := b.params
	if p.Hostname == "" {
		return nil, errors.New("request: empty hostname")
	}
	if p.Method == "" {
		return nil, errors.New("request: empty method")
	}
	scheme := p.Scheme
	if scheme == "" {
		scheme = constants.DefaultScheme
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     hostPort(scheme, p.Hostname, p.Port),
		Path:     "/" + constants.APIServerVersion + "/" + strings.TrimPrefix(p.Path, "/"),
		RawQuery: encodeQuery(p.Query),
	}

	header := b.header.Clone()
	if p.UserAgent != "" {
		header.Set("User-Agent", p.UserAgent)
	}
	if len(p.AuthTokens) > 0 {
		header.Set(constants.AuthHeader, strings.Join(p.AuthTokens, ","))
	}

	md := make(map[string]any, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		md[k] = v
	}
	md["attempt"] = b.attempt
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("request: encode metadata: %w", err)
	}
	header.Set(constants.MetadataHeader, string(mdJSON))

	r := &Request{
		Method:  strings.ToUpper(p.Method),
		URL:     u.String(),
		Header:  header,
		Body:    append([]byte(nil), p.Body...),
		Timeout: p.Timeout,
		Attempt: b.attempt,
	}
	if p.Mutator != nil {
		p.Mutator.MutateRequest(b.attempt, r)
	}
	return r, nil
}

func hostPort(scheme, host string, port int) string {
	if port == 0 ||
		(scheme == "https" && port == 443) ||
		(scheme == "http" && port == 80) {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// encodeQuery keeps item order, unlike url.Values.Encode.
func encodeQuery(items []QueryItem) string {
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, it := range items {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(it.Name))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(it.Value))
	}
	return sb.String()
}
