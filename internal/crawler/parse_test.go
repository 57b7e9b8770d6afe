package crawler

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSitemapURLSet(t *testing.T) {
	body := urlsetXML("https://example.com/a", " https://example.com/b ", "https://example.com/a")
	doc, err := ParseSitemap("https://example.com/sitemap.xml", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, DocumentURLSet, doc.Kind)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b", "https://example.com/a"}, doc.Locs)
}

func TestParseSitemapIndexWithoutNamespace(t *testing.T) {
	body := `<sitemapindex><sitemap><loc>/child.xml</loc></sitemap><sitemap><loc></loc></sitemap></sitemapindex>`
	doc, err := ParseSitemap("https://example.com/index.xml", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, DocumentSitemapIndex, doc.Kind)
	assert.Equal(t, []string{"/child.xml"}, doc.Locs)
}

func TestParseSitemapPrefixedNamespace(t *testing.T) {
	body := `<sm:urlset xmlns:sm="http://www.sitemaps.org/schemas/sitemap/0.9"><sm:url><sm:loc>https://example.com/x</sm:loc></sm:url></sm:urlset>`
	doc, err := ParseSitemap("https://example.com/s.xml", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, DocumentURLSet, doc.Kind)
	assert.Equal(t, []string{"https://example.com/x"}, doc.Locs)
}

func TestParseSitemapGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(urlsetXML("https://example.com/gz")))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	doc, err := ParseSitemap("https://example.com/sitemap.xml.gz", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/gz"}, doc.Locs)
}

func TestParseSitemapMalformed(t *testing.T) {
	cases := map[string]string{
		"html":       "<html><body>not a sitemap</body></html>",
		"empty":      "",
		"plain text": "User-agent: *",
		"bad gzip":   "\x1f\x8bnot really gzip",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSitemap("https://example.com/s.xml", []byte(body))
			var malformed *MalformedDocumentError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, "https://example.com/s.xml", malformed.URL)
		})
	}
}

func TestCheckWellFormed(t *testing.T) {
	assert.NoError(t, CheckWellFormed("u", []byte(urlsetXML())))
	assert.NoError(t, CheckWellFormed("u", []byte(indexXML("https://example.com/a.xml"))))
	assert.NoError(t, CheckWellFormed("u", []byte("<rss><channel/></rss>")))

	for _, body := range []string{"", "User-agent: *", "<urlset><url><loc>unterminated", "\x1f\x8bnot really gzip"} {
		var malformed *MalformedDocumentError
		assert.ErrorAs(t, CheckWellFormed("u", []byte(body)), &malformed, body)
	}
}
