// Package crawler holds the shared domain types of the catalog pipeline and the
// breadth-first page crawler: URL canonicalization, the per-seed frontier, HTML
// extraction, seed loading, and the retry and robots policies.
package crawler
