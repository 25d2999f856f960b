// Package devicefs is the filesystem abstraction the update engine works
// against. A Talking Book mount, the local collected-data tree, a temp
// workspace, and an S3 bucket all look the same through FS, so copy and
// delete logic is written once.
//
// Paths are slash-separated and relative to the backend root; "" and "."
// name the root itself. Every failure surfaces as *IoFailure, which matches
// services.ErrIO with errors.Is and still unwraps to the underlying cause
// (fs.ErrNotExist and friends).
package devicefs
