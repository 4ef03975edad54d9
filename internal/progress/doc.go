// Package progress prints download progress for a checkpoint archive.
//
// A Reporter sits next to the archive file in an io.MultiWriter and only
// counts bytes. A background ticker renders the status line, so the
// fetch loop never blocks on console output.
package progress
