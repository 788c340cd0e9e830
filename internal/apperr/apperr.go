// Package apperr holds the error tags shared across the sync pipeline.
package apperr

import "github.com/m-mizutani/goerr/v2"

var (
	// TagFetch marks failures reaching or decoding the remote calendar feed.
	TagFetch = goerr.NewTag("fetch_error")
	// TagStorage marks failures of the feed cache or the ledger.
	TagStorage = goerr.NewTag("storage_error")
)

// IsFetch reports whether err carries TagFetch.
func IsFetch(err error) bool {
	return goerr.HasTag(err, TagFetch)
}

// IsStorage reports whether err carries TagStorage.
func IsStorage(err error) bool {
	return goerr.HasTag(err, TagStorage)
}

// IsCycleFatal reports whether err should abort the remaining work of a cycle.
func IsCycleFatal(err error) bool {
	return IsFetch(err) || IsStorage(err)
}
