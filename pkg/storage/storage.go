// Package storage provides the string key/value store used to persist
// authorization attempts and tokens across navigation round-trips. The
// store is intentionally readable: it mirrors the browser storage the
// front-end collaborator would use, it is not a secure credential vault.
package storage

// Store is a single-writer-at-a-time key/value store. Overlapping
// authorization attempts sharing one store clobber each other; callers
// that need isolation use one store per attempt scope.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
	// Clear removes all keys. Used by logout, which wipes local auth
	// state wholesale.
	Clear() error
}
