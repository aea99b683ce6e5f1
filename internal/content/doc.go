// Package content manages the lifecycle of the site's content snapshot.
//
// A [Snapshot] is the decoded result of one CMS snapshot query together with the
// sha256 revision of its raw bytes. The core components are:
//   - [Manager]: holds the active snapshot behind an atomic.Pointer for lock-free reads
//   - [Watcher]: polls the CMS, validates new revisions and swaps them into the Manager
//   - [LoadSeed]: builds the embedded cold-start snapshot so the site renders before the CMS answers
//
// A snapshot that fails validation is never served; the previous one stays active.
package content
