package cudart

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"k8s.io/klog/v2"
)

var (
	reLdConfInclude = regexp.MustCompile(`^\s*include\s*(.*)$`)
	reLdConfComment = regexp.MustCompile(`^\s*#`)
	reLdConfPath    = regexp.MustCompile(`^\s*(.+?)\s*$`)
)

// librarySearchPaths returns the directories where to search for the CUDA runtime library: the ones in
// LibraryPathEnv if set, otherwise the default ones for the system.
func librarySearchPaths() []string {
	if cudaPaths, found := os.LookupEnv(LibraryPathEnv); found {
		return slices.DeleteFunc(strings.Split(cudaPaths, ":"), func(p string) bool {
			return p == "" // Remove empty paths.
		})
	}
	return defaultLibraryPaths("/etc/ld.so.conf")
}

// defaultLibraryPaths includes the usual CUDA toolkit installation, LD_LIBRARY_PATH and the paths configured in
// ldConf (and its includes).
func defaultLibraryPaths(ldConf string) []string {
	var paths []string
	if cudaHome := os.Getenv("CUDA_HOME"); cudaHome != "" {
		paths = append(paths, filepath.Join(cudaHome, "lib64"))
	}
	paths = append(paths, "/usr/local/cuda/lib64")

	for _, ldPath := range strings.Split(os.Getenv("LD_LIBRARY_PATH"), ":") {
		if ldPath == "" || !path.IsAbs(ldPath) {
			// No empty or relative paths.
			continue
		}
		paths = append(paths, ldPath)
	}
	return loadLibraryPaths(paths, ldConf)
}

// loadLibraryPaths appends to paths the directories listed in fileWithIncludes, in the format of /etc/ld.so.conf.
func loadLibraryPaths(paths []string, fileWithIncludes string) []string {
	klog.V(2).Infof("Loading paths for libraries from %q", fileWithIncludes)
	file, err := os.Open(fileWithIncludes)
	if err != nil {
		klog.Errorf("Failed to load paths for libraries from %q: %v", fileWithIncludes, err)
		return paths
	}
	defer func() { _ = file.Close() }()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if parts := reLdConfInclude.FindStringSubmatch(line); len(parts) > 0 {
			pattern := parts[1]
			if !filepath.IsAbs(pattern) {
				// Relative includes are relative to the including file.
				pattern = filepath.Join(filepath.Dir(fileWithIncludes), pattern)
			}
			klog.V(2).Infof("loadLibraryPaths: include %q", pattern)
			files, err := filepath.Glob(pattern)
			if err != nil {
				klog.Errorf("Failed to load paths for libraries while expanding include entry %q: %v", pattern, err)
				continue
			}
			for _, includeFile := range files {
				paths = loadLibraryPaths(paths, includeFile)
			}

		} else if reLdConfComment.MatchString(line) {
			klog.V(2).Infof("loadLibraryPaths: comment %q", line)

		} else if parts := reLdConfPath.FindStringSubmatch(line); len(parts) > 0 {
			klog.V(2).Infof("loadLibraryPaths: path %q", parts[1])
			paths = append(paths, parts[1])
		}
	}
	if err := scanner.Err(); err != nil {
		klog.Errorf("Error while loading paths for libraries from %q: %v", fileWithIncludes, err)
	}
	return paths
}

// findLibrary returns the first file matching one of LibraryNames in the given paths. Paths take precedence over
// names, so a library earlier in the search path wins even if it has a less preferred name.
func findLibrary(paths []string) (libraryPath string, found bool) {
	for _, dir := range paths {
		for _, name := range LibraryNames {
			candidates, err := filepath.Glob(filepath.Join(dir, name))
			if err != nil || len(candidates) == 0 {
				continue
			}
			// Glob sorts the matches, prefer the highest version.
			candidate := candidates[len(candidates)-1]
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
	}
	return "", false
}
