// Package sys provides thin wrappers around the Linux syscalls the
// executor's event loop is built on.
package sys
