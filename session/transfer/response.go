package transfer

import (
	"bufio"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const unknownFilename = "Unknown"

// Response is the metadata of a completed header block.
type Response struct {
	URL        *url.URL
	Proto      string
	StatusCode int
	Status     string
	Header     http.Header

	// ExpectedContentLength is -1 when the length is unknown.
	ExpectedContentLength int64
	MIMEType              string
	TextEncoding          string
	SuggestedFilename     string
}

// newHTTPResponse builds a Response from the collected header lines,
// status line first.
func newHTTPResponse(u *url.URL, lines []string) (*Response, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty header block")
	}

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	hr, err := http.ReadResponse(bufio.NewReader(strings.NewReader(b.String())), nil)
	if err != nil {
		return nil, fmt.Errorf("reading status and headers: %w", err)
	}
	defer hr.Body.Close()

	r := &Response{
		URL:                   u,
		Proto:                 hr.Proto,
		StatusCode:            hr.StatusCode,
		Status:                hr.Status,
		Header:                hr.Header,
		ExpectedContentLength: hr.ContentLength,
	}
	r.MIMEType, r.TextEncoding = contentType(hr.Header.Get("Content-Type"))
	r.SuggestedFilename = suggestedFilename(u, hr.Header.Get("Content-Disposition"))

	return r, nil
}

func newFTPResponse(u *url.URL, expectedLength int64) *Response {
	mt, _ := contentType(mime.TypeByExtension(path.Ext(u.Path)))

	return &Response{
		URL:                   u,
		Header:                http.Header{},
		ExpectedContentLength: expectedLength,
		MIMEType:              mt,
		SuggestedFilename:     suggestedFilename(u, ""),
	}
}

func contentType(v string) (mediaType, charset string) {
	if v == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(v)
	if err != nil {
		return "", ""
	}
	return mt, params["charset"]
}

func suggestedFilename(u *url.URL, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}

	if u != nil {
		if base := path.Base(u.Path); base != "/" && base != "." {
			return base
		}
	}

	return unknownFilename
}
