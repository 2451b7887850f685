//go:build !linux || !cgo

package cudart

import (
	"runtime"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
)

func init() {
	driver.Register(Name, func(driver.Options) (driver.Driver, error) {
		return nil, errors.Errorf("driver %q requires linux and cgo, not available for %s/%s",
			Name, runtime.GOOS, runtime.GOARCH)
	})
}
