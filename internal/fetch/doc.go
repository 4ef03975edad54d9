// Package fetch opens remote checkpoint archives.
//
// HTTPClient handles http and https URLs with a single GET that follows
// redirects. S3Client handles s3://bucket/key URLs through minio-go, for
// checkpoint mirrors kept in S3-compatible storage. Mux picks one of them
// by URL scheme.
//
// There is no retry policy. A failed fetch is reported once, with an error
// that wraps model.ErrNetwork and one of this package's sentinel errors
// (ErrNotFound, ErrForbidden, ErrServerError, ErrTimeout, ...).
package fetch
