// Package render defines the data contracts shared by the page cache, the
// worker pool, the render service, and the image converter.
//
// PageKey identifies a rendered unit (document, page, zoom, rotation) and is
// the cache index. Request travels from the service to a worker; a worker
// answers with a Result carrying either a Response (pixels plus text and link
// layout) or a Fault. State is the per-page lifecycle the service owns and the
// UI reads. RasterSpec derives output geometry from page size, viewport, and
// zoom so every producer aligns rasters to terminal cell boundaries the same
// way.
//
// Responses are owned by whichever stage currently holds them. Once a
// Response has been inserted into the page cache it is shared read-only and
// must not be mutated.
package render
