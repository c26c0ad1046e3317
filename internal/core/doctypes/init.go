// Package doctypes registers the built-in document types with the core
// registry. Import it for its side effects.
package doctypes

// Each file registers its type from init().
