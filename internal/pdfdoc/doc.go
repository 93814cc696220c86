// Package pdfdoc is the decode-library boundary: it rasterizes pages with
// MuPDF (go-fitz) and extracts positioned text runs and link annotations
// with a pure Go PDF parser, mapping everything into raster coordinates.
//
// A Document is not safe for concurrent use. The worker pool opens one per
// worker so MuPDF contexts are never shared between goroutines.
package pdfdoc
