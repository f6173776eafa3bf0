//go:build darwin || freebsd || linux

package mysql

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	libOnce sync.Once
	libErr  error
)

// LoadLibrary locates the MySQL client library, loads it, and registers its
// symbols. The first call does the work; every later call returns the same
// result. Set ROWBIND_MYSQL_LIB to an exact path to override discovery.
// Connect calls this implicitly.
func LoadLibrary() error {
	libOnce.Do(func() { libErr = loadLibrary() })
	return libErr
}

func loadLibrary() error {
	candidates := libCandidates()
	if p := os.Getenv("ROWBIND_MYSQL_LIB"); p != "" {
		candidates = []string{p}
	}
	var firstErr error
	for _, name := range candidates {
		handle, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return register_mysql(handle)
	}
	return fmt.Errorf("mysql: client library not found (tried %d names): %w", len(candidates), firstErr)
}

// libCandidates lists sonames to try, newest first. The struct layouts in
// this package track the 8.x C API, so only 8.x client libraries are
// attempted.
func libCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"libmysqlclient.dylib",
			"libmysqlclient.24.dylib",
			"libmysqlclient.21.dylib",
			"/opt/homebrew/opt/mysql-client/lib/libmysqlclient.dylib",
			"/usr/local/opt/mysql-client/lib/libmysqlclient.dylib",
		}
	default:
		return []string{
			"libmysqlclient.so.24",
			"libmysqlclient.so.22",
			"libmysqlclient.so.21",
			"libmysqlclient.so",
		}
	}
}
