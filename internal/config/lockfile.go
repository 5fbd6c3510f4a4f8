package config

import (
	"fmt"
	"os"
)

// AcquireLock creates path exclusively, refusing to run a second instance
// against the same data directory. The returned file must be kept open
// for the lifetime of the process and then passed to ReleaseLock; closing
// it alone leaves the lock file in place.
func AcquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("already running (lock file %s exists)", path)
		}
		return nil, err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

// ReleaseLock closes and removes the lock file.
func ReleaseLock(path string, f *os.File) {
	f.Close()
	os.Remove(path)
}
