package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/publicsuffix"

	"github.com/vk/psmgrid/internal/ctxlog"
	"github.com/vk/psmgrid/internal/fsutil"
)

// maxResultSize bounds the response bodies held in memory.
var maxResultSize int64 = 512 << 20

// Job is one submission.
type Job struct {
	// Database is the portal's name for the search database.
	Database string
	// Upload is the local spectra file sent in the file field.
	Upload string
	// Fields override the portal's static fields for this job only.
	Fields map[string]string
}

// Submitter is anything that can run a Job to completion.
type Submitter interface {
	Submit(ctx context.Context, job Job) ([]byte, error)
}

// Session is one isolated conversation with the portal.
type Session struct {
	portal *Portal
	base   *url.URL
	client *http.Client
}

// NewSession creates a session with its own client and cookie jar. The
// portal is copied; sessions never write to it.
func NewSession(portal *Portal) (*Session, error) {
	p := *portal
	p.applyDefaults()
	base, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal url %q: %w", p.URL, err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &Session{
		portal: &p,
		base:   base,
		client: &http.Client{Jar: jar, Timeout: p.Timeout},
	}, nil
}

// Submit posts the search form, extracts the result token from the first
// link of the response and fetches the export. Any failure is a
// *RemoteJobError; nothing is retried.
func (s *Session) Submit(ctx context.Context, job Job) ([]byte, error) {
	logger := ctxlog.FromContext(ctx)

	page, pageURL, err := s.submit(ctx, job)
	if err != nil {
		return nil, err
	}
	logger.Debug("Search form accepted.", "url", pageURL)

	token, err := s.resultToken(page, pageURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("Found result token.", "token", token)

	return s.export(ctx, token)
}

func (s *Session) submit(ctx context.Context, job Job) ([]byte, *url.URL, error) {
	target := s.resolve(s.portal.SubmitPath)
	fail := func(status int, err error) ([]byte, *url.URL, error) {
		return nil, nil, &RemoteJobError{Stage: "submit", URL: target.String(), Status: status, Err: err}
	}

	fields, err := s.formFields(job)
	if err != nil {
		return fail(0, err)
	}
	upload, err := os.Open(job.Upload)
	if err != nil {
		return fail(0, err)
	}
	defer upload.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, fields, s.portal.FileField, upload))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), pr)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", s.portal.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, nil)
	}
	body, err := readBody(resp.Body)
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	return body, resp.Request.URL, nil
}

func (s *Session) formFields(job Job) (map[string]string, error) {
	fields := make(map[string]string, len(s.portal.Fields)+len(job.Fields)+2)
	for k, v := range s.portal.Fields {
		fields[k] = v
	}
	for name, c := range s.portal.Choices {
		v, err := c.Value()
		if err != nil {
			return nil, fmt.Errorf("choice %s: %w", name, err)
		}
		fields[name] = v
	}
	for name, checked := range s.portal.Checkboxes {
		if checked {
			fields[name] = "1"
		}
	}
	if s.portal.DatabaseField != "" && job.Database != "" {
		fields[s.portal.DatabaseField] = job.Database
	}
	for k, v := range job.Fields {
		fields[k] = v
	}
	return fields, nil
}

func writeForm(mw *multipart.Writer, fields map[string]string, fileField string, upload *os.File) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := mw.WriteField(name, fields[name]); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile(fileField, filepath.Base(upload.Name()))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, upload); err != nil {
		return err
	}
	return mw.Close()
}

// resultToken takes the first link of the page and returns the value of the
// token parameter. Links that carry the token only as the last "=" separated
// segment are accepted as well.
func (s *Session) resultToken(page []byte, pageURL *url.URL) (string, error) {
	fail := func(err error) (string, error) {
		return "", &RemoteJobError{Stage: "result-link", URL: pageURL.String(), Err: err}
	}

	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return fail(err)
	}
	href, ok := firstLink(doc)
	if !ok {
		return fail(ErrNoResultLink)
	}
	link, err := pageURL.Parse(href)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrNoToken, err))
	}

	token := link.Query().Get(s.portal.TokenParam)
	if token == "" {
		if i := strings.LastIndexByte(href, '='); i >= 0 {
			token, _ = url.QueryUnescape(href[i+1:])
		}
	}
	if strings.TrimSpace(token) == "" {
		return fail(ErrNoToken)
	}
	return token, nil
}

func firstLink(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.DataAtom == atom.A {
		for _, a := range n.Attr {
			if a.Key == "href" && strings.TrimSpace(a.Val) != "" {
				return strings.TrimSpace(a.Val), true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if href, ok := firstLink(c); ok {
			return href, true
		}
	}
	return "", false
}

func (s *Session) export(ctx context.Context, token string) ([]byte, error) {
	target := s.resolve(s.portal.ExportPath)
	q := target.Query()
	q.Set(s.portal.TokenParam, token)
	for k, v := range s.portal.Export {
		q.Set(k, v)
	}
	if s.portal.ExportFormatField != "" {
		format, err := s.portal.ExportFormat.Value()
		if err != nil {
			return nil, &RemoteJobError{Stage: "export", URL: target.String(), Err: err}
		}
		q.Set(s.portal.ExportFormatField, format)
	}
	target.RawQuery = q.Encode()
	fail := func(status int, err error) ([]byte, error) {
		return nil, &RemoteJobError{Stage: "export", URL: target.String(), Status: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("User-Agent", s.portal.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, nil)
	}
	body, err := readBody(resp.Body)
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fail(resp.StatusCode, ErrEmptyResult)
	}
	return body, nil
}

// readBody reads at most maxResultSize bytes and fails on anything longer
// rather than returning a truncated body.
func readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResultSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxResultSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResultTooLarge, maxResultSize)
	}
	return body, nil
}

// resolve interprets a portal path, which may carry its own query string,
// relative to the portal URL.
func (s *Session) resolve(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		return s.base.JoinPath(path)
	}
	return s.base.ResolveReference(ref)
}

// WriteResult stores result bytes at path atomically.
func WriteResult(path string, data []byte) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
