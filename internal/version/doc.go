// Package version parses and normalizes toolchain version strings and
// release tags. It does no I/O.
package version
