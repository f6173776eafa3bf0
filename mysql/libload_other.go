//go:build !(darwin || freebsd || linux)

package mysql

import (
	"fmt"
	"runtime"
)

// LoadLibrary reports that dynamic loading of the MySQL client library is
// not supported on this platform.
func LoadLibrary() error {
	return fmt.Errorf("mysql: dynamic client library loading not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
}
