package crawler

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
)

const (
	// maxInflatedBytes bounds a decompressed sitemap body.
	maxInflatedBytes = 256 << 20

	urlLocExpr     = "*[local-name()='url']/*[local-name()='loc']"
	sitemapLocExpr = "*[local-name()='sitemap']/*[local-name()='loc']"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Document is a parsed sitemap: its kind and the <loc> values it lists, in
// document order. For an index the locs point at child sitemaps.
type Document struct {
	Kind DocumentKind
	Locs []string
}

// ParseSitemap parses body as a urlset or sitemapindex document. Namespaces
// are ignored and gzip bodies are inflated transparently.
func ParseSitemap(sourceURL string, body []byte) (Document, error) {
	root, err := parseRoot(sourceURL, body)
	if err != nil {
		return Document{}, err
	}

	var (
		kind DocumentKind
		expr string
	)
	switch strings.ToLower(root.Data) {
	case string(DocumentURLSet):
		kind, expr = DocumentURLSet, urlLocExpr
	case string(DocumentSitemapIndex):
		kind, expr = DocumentSitemapIndex, sitemapLocExpr
	default:
		return Document{}, &MalformedDocumentError{
			URL:    sourceURL,
			Reason: fmt.Sprintf("unrecognized root element <%s>", root.Data),
		}
	}

	nodes := xmlquery.Find(root, expr)
	locs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			locs = append(locs, loc)
		}
	}
	return Document{Kind: kind, Locs: locs}, nil
}

// CheckWellFormed reports whether body, inflated if gzipped, is well-formed
// XML with a root element. The root's name is not checked.
func CheckWellFormed(sourceURL string, body []byte) error {
	_, err := parseRoot(sourceURL, body)
	return err
}

func parseRoot(sourceURL string, body []byte) (*xmlquery.Node, error) {
	data, err := inflate(body)
	if err != nil {
		return nil, &MalformedDocumentError{URL: sourceURL, Reason: "invalid gzip body", Err: err}
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &MalformedDocumentError{URL: sourceURL, Reason: "invalid XML", Err: err}
	}
	root := rootElement(doc)
	if root == nil {
		return nil, &MalformedDocumentError{URL: sourceURL, Reason: "no root element"}
	}
	return root, nil
}

func inflate(body []byte) ([]byte, error) {
	if !bytes.HasPrefix(body, gzipMagic) {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer func() { _ = zr.Close() }()
	data, err := io.ReadAll(io.LimitReader(zr, maxInflatedBytes))
	if err != nil {
		return nil, fmt.Errorf("read gzip: %w", err)
	}
	return data, nil
}

func rootElement(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}
