//go:build linux && cgo

package cudart

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// systemLibrary returns the path to a shared library that loads anywhere but has none of the CUDA runtime symbols.
func systemLibrary(t *testing.T) string {
	for _, candidate := range []string{
		"/lib/x86_64-linux-gnu/libm.so.6", "/lib/aarch64-linux-gnu/libm.so.6",
		"/usr/lib64/libm.so.6", "/lib64/libm.so.6", "/usr/lib/libm.so.6",
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	t.Skip("no libm.so.6 found in the usual places")
	return ""
}

func TestLoadLibraryMissingSymbols(t *testing.T) {
	libraryPath := systemLibrary(t)
	getOpenHandles := func() int {
		muLibraries.Lock()
		defer muLibraries.Unlock()
		return numOpenHandles
	}
	before := getOpenHandles()
	for range 3 {
		_, err := getLibrary(libraryPath)
		require.ErrorContains(t, err, "failed to find symbol")
		require.Equal(t, before, getOpenHandles())
	}
	muLibraries.Lock()
	_, cached := loadedLibraries[libraryPath]
	muLibraries.Unlock()
	require.False(t, cached)
}
