//go:build !unix

package store

// lockFile is a no-op where flock is unavailable; the file store then only
// serializes writers inside one process.
func lockFile(path string, exclusive, wait bool) (func(), error) {
	return func() {}, nil
}
