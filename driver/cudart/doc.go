// Package cudart binds NVIDIA's CUDA runtime (libcudart.so) as a driver.Driver, and registers it as "cudart",
// the default driver.
//
// The library is loaded with dlopen at the first Open, so binaries using it build and run on machines without
// CUDA: Open then fails with an error. It is searched in the directories listed (":" separated) in the environment
// variable GOCUDA_LIBRARY_PATH, or if not set, in $CUDA_HOME/lib64, /usr/local/cuda/lib64, LD_LIBRARY_PATH and the
// directories configured in /etc/ld.so.conf.
//
// The binding requires linux and cgo. On other platforms the driver is still registered, but Open fails.
//
// Options:
//
//   - "library" (string): absolute path to the library, skipping the search.
package cudart

const (
	// Name under which the driver is registered.
	Name = "cudart"

	// LibraryPathEnv is the name of the environment variable that defines the search paths for the library.
	LibraryPathEnv = "GOCUDA_LIBRARY_PATH"
)

// LibraryNames are the glob patterns of the file names searched for, in order of preference.
var LibraryNames = []string{"libcudart.so", "libcudart.so.[0-9]*"}
