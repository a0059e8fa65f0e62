// Package collaborator holds the single-image functions the pipeline consults
// before accepting an artifact: an HTTP classifier client, a palette color
// extractor and pixel-statistics content filters.
//
// Every collaborator reads the normalized JPEG at a path and never modifies it,
// so the same path may be passed to several of them concurrently.
package collaborator
