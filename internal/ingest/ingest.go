// Package ingest turns external content (raw text, web pages, uploaded
// files) into episode descriptions ready for consolidation.
package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

const (
	maxFetchSize = 5 << 20 // 5MB
	fetchTimeout = 10 * time.Second
)

// Request describes content to ingest. Type selects how Content/URL are
// interpreted: "text" (default), "url", or "file" (base64-encoded; PDFs are
// detected and their text extracted).
type Request struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Resolver fetches and normalizes ingest requests into plain text.
type Resolver struct {
	client *http.Client
}

// NewResolver creates a Resolver. A nil client gets a default with the fetch
// timeout applied.
func NewResolver(client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &Resolver{client: client}
}

// Resolve returns the title and plain-text content for a request.
func (r *Resolver) Resolve(ctx context.Context, req Request) (title, text string, err error) {
	switch {
	case req.Type == "url" && req.URL != "":
		text, err = r.fetchURL(ctx, req.URL)
		if err != nil {
			return "", "", err
		}
		title = req.Title
		if title == "" {
			title = req.URL
		}
		return title, text, nil

	case req.Type == "file" && req.Content != "":
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return "", "", fmt.Errorf("invalid base64 content: %w", err)
		}
		if isPDF(decoded) {
			text, err = extractPDFText(decoded)
			if err != nil {
				return "", "", fmt.Errorf("extracting PDF text: %w", err)
			}
			return req.Title, text, nil
		}
		return req.Title, string(decoded), nil

	case req.Content != "":
		return req.Title, req.Content, nil

	default:
		return "", "", fmt.Errorf("at least one of content or url is required")
	}
}

func (r *Resolver) fetchURL(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return "", fmt.Errorf("reading url response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") || looksLikeHTML(body) {
		return ExtractHTMLText(bytes.NewReader(body))
	}
	return string(body), nil
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// ExtractHTMLText strips markup and returns the visible text of an HTML
// document, with script and style contents dropped.
func ExtractHTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String(), nil
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	rc, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var b bytes.Buffer
	if _, err := b.ReadFrom(rc); err != nil {
		return "", err
	}
	return b.String(), nil
}
