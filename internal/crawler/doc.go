// Package crawler implements the sitemap discovery and expansion engine:
// locating a domain's sitemap entry points, expanding sitemap-index trees
// into leaf URL sets, and reducing the outcome of one domain into a
// CrawlResult.
package crawler
