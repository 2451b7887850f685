package driver

import (
	"os"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DriverEnv is the name of the environment variable that selects the default driver.
	DriverEnv = "GOCUDA_DRIVER"

	// DefaultDriverName is used if DriverEnv is not set.
	DefaultDriverName = "cudart"
)

// Options configure a driver when it is opened. Keys and value types are driver specific, and documented by
// each driver.
type Options map[string]any

// Int returns the option value as an int, or defaultValue if not set.
// It accepts any of the Go integer types.
func (o Options) Int(key string, defaultValue int) (int, error) {
	v, found := o[key]
	if !found {
		return defaultValue, nil
	}
	switch value := v.(type) {
	case int:
		return value, nil
	case int32:
		return int(value), nil
	case int64:
		return int(value), nil
	case uint:
		return int(value), nil
	}
	return 0, errors.Errorf("option %q must be an integer, got %T", key, v)
}

// Bool returns the option value as a bool, or defaultValue if not set.
func (o Options) Bool(key string, defaultValue bool) (bool, error) {
	v, found := o[key]
	if !found {
		return defaultValue, nil
	}
	value, ok := v.(bool)
	if !ok {
		return false, errors.Errorf("option %q must be a bool, got %T", key, v)
	}
	return value, nil
}

// String returns the option value as a string, or defaultValue if not set.
func (o Options) String(key string, defaultValue string) (string, error) {
	v, found := o[key]
	if !found {
		return defaultValue, nil
	}
	value, ok := v.(string)
	if !ok {
		return "", errors.Errorf("option %q must be a string, got %T", key, v)
	}
	return value, nil
}

// Factory creates a Driver for the given options.
type Factory func(options Options) (Driver, error)

var (
	// factories registered by name. Protected by muFactories.
	factories   = make(map[string]Factory)
	muFactories sync.Mutex
)

// Register makes a driver available by name. It is usually called from the init() function of the package
// implementing the driver, so a blank import is enough to make it available:
//
//	import _ "github.com/gomlx/gocuda/driver/sim"
//
// Registering the same name twice replaces the previous factory.
func Register(name string, factory Factory) {
	muFactories.Lock()
	defer muFactories.Unlock()
	if _, found := factories[name]; found {
		klog.Warningf("driver %q registered more than once, the last registration is used", name)
	}
	factories[name] = factory
}

// Available returns the names of the registered drivers, sorted.
func Available() []string {
	muFactories.Lock()
	defer muFactories.Unlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultName returns the driver name set by GOCUDA_DRIVER, or DefaultDriverName.
func DefaultName() string {
	if name := os.Getenv(DriverEnv); name != "" {
		return name
	}
	return DefaultDriverName
}

// Open creates the driver registered under name. If name is empty, DefaultName() is used.
// The options (it can be left nil) are driver specific.
func Open(name string, options Options) (Driver, error) {
	if name == "" {
		name = DefaultName()
	}
	muFactories.Lock()
	factory, found := factories[name]
	muFactories.Unlock()
	if !found {
		return nil, errors.Errorf("driver %q not registered (available: %v) -- did you forget to import its package, "+
			"e.g. `import _ \"github.com/gomlx/gocuda/driver/sim\"`?", name, Available())
	}
	klog.V(1).Infof("opening driver %q with options %v", name, options)
	drv, err := factory(options)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open driver %q", name)
	}
	return drv, nil
}
