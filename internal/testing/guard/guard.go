// Package guard turns on test mode for any test binary importing it, so
// command packages can be compiled and exercised without booting servers.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ARMONIA_TEST_MODE") == "" {
			_ = os.Setenv("ARMONIA_TEST_MODE", "1")
		}
	})
}
