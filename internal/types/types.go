// Package types contains common generic helper types shared across the
// transaction package.
package types

//go:generate go tool errtrace -w .

// ContextKey is the type used for values stored in a context.Context by this
// module, keeping them distinct from keys set by other packages.
type ContextKey string
