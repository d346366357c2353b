// Package logging provides structured logging for dispatch-core.
//
// It wraps log/slog with configuration-driven handler selection and default
// service fields. Leaf packages that should not depend on this package accept
// a small Logger interface instead and default to a no-op implementation.
package logging
