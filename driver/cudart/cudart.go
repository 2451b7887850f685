//go:build linux && cgo

package cudart

// The CUDA runtime functions are resolved with dlsym and called through the C trampolines below, so nothing
// links against libcudart at build time. Handles cross the boundary as uintptr_t, and are opaque pointers on
// the C side.
//
// The dlopen handling is a modified version of https://github.com/coreos/pkg/blob/main/dlopen/dlopen.go, licenced
// with Apache 2.0 license https://github.com/coreos/pkg/blob/main/LICENSE

// #cgo LDFLAGS: -ldl
/*
#include <stdlib.h>
#include <stdint.h>
#include <string.h>
#include <dlfcn.h>

extern void gocudaHostFuncCallback(uintptr_t userData);

static void hostFuncTrampoline(void *userData) {
	gocudaHostFuncCallback((uintptr_t)userData);
}

typedef int (*fnOutInt)(int*);
static int callOutInt(void *f, int *out) { return ((fnOutInt)f)(out); }

typedef int (*fnOutInt2)(int*, int*);
static int callOutInt2(void *f, int *a, int *b) { return ((fnOutInt2)f)(a, b); }

typedef int (*fnInt)(int);
static int callInt(void *f, int a) { return ((fnInt)f)(a); }

typedef int (*fnVoid)(void);
static int callVoid(void *f) { return ((fnVoid)f)(); }

typedef int (*fnHandle)(void*);
static int callHandle(void *f, uintptr_t h) { return ((fnHandle)f)((void*)h); }

typedef int (*fnHandle2)(void*, void*);
static int callHandle2(void *f, uintptr_t a, uintptr_t b) { return ((fnHandle2)f)((void*)a, (void*)b); }

typedef int (*fnHandle2Flags)(void*, void*, unsigned int);
static int callHandle2Flags(void *f, uintptr_t a, uintptr_t b, unsigned int flags) {
	return ((fnHandle2Flags)f)((void*)a, (void*)b, flags);
}

typedef int (*fnStreamCreate)(void**, unsigned int, int);
static int callStreamCreate(void *f, uintptr_t *out, unsigned int flags, int priority) {
	void *h = NULL;
	int status = ((fnStreamCreate)f)(&h, flags, priority);
	*out = (uintptr_t)h;
	return status;
}

typedef int (*fnEventCreate)(void**, unsigned int);
static int callEventCreate(void *f, uintptr_t *out, unsigned int flags) {
	void *h = NULL;
	int status = ((fnEventCreate)f)(&h, flags);
	*out = (uintptr_t)h;
	return status;
}

typedef int (*fnElapsed)(float*, void*, void*);
static int callElapsed(void *f, float *ms, uintptr_t start, uintptr_t end) {
	return ((fnElapsed)f)(ms, (void*)start, (void*)end);
}

typedef int (*fnLaunchHost)(void*, void (*)(void*), void*);
static int callLaunchHostFunc(void *f, uintptr_t stream, uintptr_t userData) {
	return ((fnLaunchHost)f)((void*)stream, hostFuncTrampoline, (void*)userData);
}

// cudaDeviceProp starts with "char name[256]", and its size changes across versions: a generous buffer is used.
#define PROPS_BUFFER_SIZE 16384
typedef int (*fnProps)(void*, int);
static int callDeviceName(void *f, char *name, int device) {
	char *props = calloc(1, PROPS_BUFFER_SIZE);
	if (props == NULL) {
		return 2;  // cudaErrorMemoryAllocation
	}
	int status = ((fnProps)f)(props, device);
	if (status == 0) {
		memcpy(name, props, 255);
		name[255] = 0;
	}
	free(props);
	return status;
}

typedef const char* (*fnErrorString)(int);
static const char* callErrorString(void *f, int status) { return ((fnErrorString)f)(status); }
*/
import "C"
import (
	"os"
	"runtime/cgo"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Flags of cudaStreamCreateWithPriority and cudaEventCreateWithFlags.
const (
	cudaStreamNonBlocking  = 0x01
	cudaEventBlockingSync  = 0x01
	cudaEventDisableTiming = 0x02
)

func init() {
	driver.Register(Name, func(options driver.Options) (driver.Driver, error) {
		return New(options)
	})
}

// symbols of the CUDA runtime used by the driver.
type symbols struct {
	getDeviceCount, getDevice, setDevice, getDeviceProperties, deviceGetStreamPriorityRange unsafe.Pointer
	streamCreateWithPriority, streamDestroy, streamSynchronize, streamQuery, launchHostFunc    unsafe.Pointer
	eventCreateWithFlags, eventRecord, eventSynchronize, eventQuery, eventDestroy              unsafe.Pointer
	streamWaitEvent, eventElapsedTime, deviceSynchronize, getErrorString                       unsafe.Pointer
}

// library is a loaded libcudart. Libraries are never unloaded.
type library struct {
	path   string
	handle unsafe.Pointer
	fns    symbols
}

var (
	// loadedLibraries caches the libraries already loaded, by path. Protected by muLibraries.
	loadedLibraries = make(map[string]*library)
	muLibraries     sync.Mutex

	// numOpenHandles counts the handles returned by dlopen and not yet closed. Protected by muLibraries.
	numOpenHandles int
)

// getLibrary returns the library at libraryPath, or the one found in the search paths if libraryPath is empty.
func getLibrary(libraryPath string) (*library, error) {
	muLibraries.Lock()
	defer muLibraries.Unlock()

	if libraryPath == "" {
		searchPaths := librarySearchPaths()
		var found bool
		libraryPath, found = findLibrary(searchPaths)
		if !found {
			return nil, errors.Errorf("CUDA runtime library (%v) not found in paths %v: set %s to the "+
				"directory (or \":\" separated directories) where it is installed",
				LibraryNames, searchPaths, LibraryPathEnv)
		}
	}
	if lib, found := loadedLibraries[libraryPath]; found {
		return lib, nil
	}
	lib, err := loadLibrary(libraryPath)
	if err != nil {
		return nil, err
	}
	loadedLibraries[libraryPath] = lib
	return lib, nil
}

// loadLibrary tries to dlopen the library and resolve all the symbols used.
func loadLibrary(libraryPath string) (*library, error) {
	info, err := os.Stat(libraryPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %q", libraryPath)
	}
	if info.IsDir() {
		return nil, errors.Errorf("library path %q is a directory!?", libraryPath)
	}

	nameC := C.CString(libraryPath)
	klog.V(2).Infof("trying to load library %s", libraryPath)
	handle := C.dlopen(nameC, C.RTLD_LAZY|C.RTLD_LOCAL)
	C.free(unsafe.Pointer(nameC))
	if handle == nil {
		msg := C.GoString(C.dlerror())
		err = errors.Errorf("failed to dynamically load CUDA runtime from %q: %q -- check with `ldd %s` in case "+
			"there are missing required libraries", libraryPath, msg, libraryPath)
		klog.Warningf("%v", err)
		return nil, err
	}
	numOpenHandles++
	lib := &library{path: libraryPath, handle: handle}
	f := &lib.fns
	for _, sym := range []struct {
		names []string
		ptr   *unsafe.Pointer
	}{
		{[]string{"cudaGetDeviceCount"}, &f.getDeviceCount},
		{[]string{"cudaGetDevice"}, &f.getDevice},
		{[]string{"cudaSetDevice"}, &f.setDevice},
		{[]string{"cudaGetDeviceProperties_v2", "cudaGetDeviceProperties"}, &f.getDeviceProperties},
		{[]string{"cudaDeviceGetStreamPriorityRange"}, &f.deviceGetStreamPriorityRange},
		{[]string{"cudaStreamCreateWithPriority"}, &f.streamCreateWithPriority},
		{[]string{"cudaStreamDestroy"}, &f.streamDestroy},
		{[]string{"cudaStreamSynchronize"}, &f.streamSynchronize},
		{[]string{"cudaStreamQuery"}, &f.streamQuery},
		{[]string{"cudaLaunchHostFunc"}, &f.launchHostFunc},
		{[]string{"cudaEventCreateWithFlags"}, &f.eventCreateWithFlags},
		{[]string{"cudaEventRecord"}, &f.eventRecord},
		{[]string{"cudaEventSynchronize"}, &f.eventSynchronize},
		{[]string{"cudaEventQuery"}, &f.eventQuery},
		{[]string{"cudaEventDestroy"}, &f.eventDestroy},
		{[]string{"cudaStreamWaitEvent"}, &f.streamWaitEvent},
		{[]string{"cudaEventElapsedTime"}, &f.eventElapsedTime},
		{[]string{"cudaDeviceSynchronize"}, &f.deviceSynchronize},
		{[]string{"cudaGetErrorString"}, &f.getErrorString},
	} {
		for _, name := range sym.names {
			if *sym.ptr, err = lib.symbol(name); err == nil {
				break
			}
		}
		if err != nil {
			err = errors.WithMessagef(err, "loaded %q, but failed to find symbol", libraryPath)
			klog.Warningf("%v", err)
			if errClose := lib.close(); errClose != nil {
				klog.Errorf("%v", errClose)
			}
			return nil, err
		}
	}
	klog.V(1).Infof("loaded CUDA runtime library %s", libraryPath)
	return lib, nil
}

// close the library handle. Only used when loading fails, loaded libraries are never unloaded.
func (lib *library) close() error {
	C.dlerror()
	C.dlclose(lib.handle)
	numOpenHandles--
	e := C.dlerror()
	if e != nil {
		return errors.Errorf("error closing %q: %v", lib.path, errors.New(C.GoString(e)))
	}
	return nil
}

// symbol returns the pointer to the named symbol.
func (lib *library) symbol(name string) (unsafe.Pointer, error) {
	sym := C.CString(name)
	defer C.free(unsafe.Pointer(sym))

	C.dlerror()
	p := C.dlsym(lib.handle, sym)
	e := C.dlerror()
	if e != nil {
		return nil, errors.Errorf("error resolving symbol %q: %v", name, errors.New(C.GoString(e)))
	}
	if p == nil {
		return nil, errors.Errorf("symbol %q resolved to nil", name)
	}
	return p, nil
}

// Driver binds the CUDA runtime. It implements driver.Driver.
type Driver struct {
	lib    *library
	fns    *symbols
	closed atomic.Bool
}

// Assert Driver implements driver.Driver.
var _ driver.Driver = (*Driver)(nil)

// New loads the CUDA runtime (if not loaded yet) and returns a Driver for it. See package documentation for options.
func New(options driver.Options) (*Driver, error) {
	libraryPath, err := options.String("library", "")
	if err != nil {
		return nil, err
	}
	lib, err := getLibrary(libraryPath)
	if err != nil {
		return nil, err
	}
	return &Driver{lib: lib, fns: &lib.fns}, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return Name }

// LibraryPath returns the path of the loaded CUDA runtime library.
func (d *Driver) LibraryPath() string { return d.lib.path }

// check converts a cudaError_t to an error.
func (d *Driver) check(op string, status C.int) error {
	if status == 0 {
		return nil
	}
	msg := C.GoString(C.callErrorString(d.fns.getErrorString, status))
	return driver.NewError(op, driver.Status(status), "%s", msg)
}

// begin returns an error if the driver was closed.
func (d *Driver) begin(op string) error {
	if d.closed.Load() {
		return driver.NewError(op, driver.StatusInitializationError, "driver closed")
	}
	return nil
}

// DeviceCount implements driver.Driver. A system without devices has 0 devices, not an error.
func (d *Driver) DeviceCount() (int, error) {
	if err := d.begin("DeviceCount"); err != nil {
		return 0, err
	}
	var count C.int
	err := d.check("DeviceCount", C.callOutInt(d.fns.getDeviceCount, &count))
	if driver.Code(err) == driver.StatusNoDevice {
		klog.V(1).Infof("cudart: no CUDA devices: %v", err)
		return 0, nil
	}
	return int(count), err
}

// DeviceName implements driver.Driver.
func (d *Driver) DeviceName(id driver.DeviceID) (string, error) {
	if err := d.begin("DeviceName"); err != nil {
		return "", err
	}
	var name [256]C.char
	if err := d.check("DeviceName", C.callDeviceName(d.fns.getDeviceProperties, &name[0], C.int(id))); err != nil {
		return "", err
	}
	return C.GoString(&name[0]), nil
}

// Current implements driver.Driver.
func (d *Driver) Current() (driver.DeviceID, error) {
	if err := d.begin("Current"); err != nil {
		return 0, err
	}
	var id C.int
	err := d.check("Current", C.callOutInt(d.fns.getDevice, &id))
	return driver.DeviceID(id), err
}

// SetCurrent implements driver.Driver.
func (d *Driver) SetCurrent(id driver.DeviceID) error {
	if err := d.begin("SetCurrent"); err != nil {
		return err
	}
	return d.check("SetCurrent", C.callInt(d.fns.setDevice, C.int(id)))
}

// StreamPriorityRange implements driver.Driver.
func (d *Driver) StreamPriorityRange() (least, greatest int, err error) {
	if err = d.begin("StreamPriorityRange"); err != nil {
		return
	}
	var cLeast, cGreatest C.int
	err = d.check("StreamPriorityRange", C.callOutInt2(d.fns.deviceGetStreamPriorityRange, &cLeast, &cGreatest))
	return int(cLeast), int(cGreatest), err
}

// CreateQueue implements driver.Driver.
func (d *Driver) CreateQueue(priority int, syncWithDefault bool) (driver.QueueHandle, error) {
	if err := d.begin("CreateQueue"); err != nil {
		return 0, err
	}
	var flags C.uint
	if !syncWithDefault {
		flags = cudaStreamNonBlocking
	}
	var h C.uintptr_t
	err := d.check("CreateQueue", C.callStreamCreate(d.fns.streamCreateWithPriority, &h, flags, C.int(priority)))
	return driver.QueueHandle(h), err
}

// DestroyQueue implements driver.Driver.
func (d *Driver) DestroyQueue(h driver.QueueHandle) error {
	if err := d.begin("DestroyQueue"); err != nil {
		return err
	}
	if h == driver.DefaultQueue {
		return driver.NewError("DestroyQueue", driver.StatusInvalidResourceHandle, "the default queue can't be destroyed")
	}
	return d.check("DestroyQueue", C.callHandle(d.fns.streamDestroy, C.uintptr_t(h)))
}

// WaitQueue implements driver.Driver.
func (d *Driver) WaitQueue(h driver.QueueHandle) error {
	if err := d.begin("WaitQueue"); err != nil {
		return err
	}
	return d.check("WaitQueue", C.callHandle(d.fns.streamSynchronize, C.uintptr_t(h)))
}

// QueryQueue implements driver.Driver.
func (d *Driver) QueryQueue(h driver.QueueHandle) (bool, error) {
	if err := d.begin("QueryQueue"); err != nil {
		return false, err
	}
	return d.query("QueryQueue", C.callHandle(d.fns.streamQuery, C.uintptr_t(h)))
}

// query interprets the result of cudaStreamQuery and cudaEventQuery.
func (d *Driver) query(op string, status C.int) (done bool, err error) {
	if driver.Status(status) == driver.StatusNotReady {
		return false, nil
	}
	if err = d.check(op, status); err != nil {
		return false, err
	}
	return true, nil
}

// LaunchHostFunc implements driver.Driver.
func (d *Driver) LaunchHostFunc(h driver.QueueHandle, fn func()) error {
	if err := d.begin("LaunchHostFunc"); err != nil {
		return err
	}
	if fn == nil {
		return driver.NewError("LaunchHostFunc", driver.StatusInvalidValue, "nil host function")
	}
	handle := cgo.NewHandle(fn)
	err := d.check("LaunchHostFunc", C.callLaunchHostFunc(d.fns.launchHostFunc, C.uintptr_t(h), C.uintptr_t(handle)))
	if err != nil {
		// Never called back.
		handle.Delete()
	}
	return err
}

// CreateEvent implements driver.Driver.
func (d *Driver) CreateEvent(flags driver.EventFlags) (driver.EventHandle, error) {
	if err := d.begin("CreateEvent"); err != nil {
		return 0, err
	}
	var cFlags C.uint
	if flags.BlockingSync {
		cFlags |= cudaEventBlockingSync
	}
	if flags.DisableTiming {
		cFlags |= cudaEventDisableTiming
	}
	var h C.uintptr_t
	err := d.check("CreateEvent", C.callEventCreate(d.fns.eventCreateWithFlags, &h, cFlags))
	return driver.EventHandle(h), err
}

// RecordEvent implements driver.Driver.
func (d *Driver) RecordEvent(e driver.EventHandle, q driver.QueueHandle) error {
	if err := d.begin("RecordEvent"); err != nil {
		return err
	}
	return d.check("RecordEvent", C.callHandle2(d.fns.eventRecord, C.uintptr_t(e), C.uintptr_t(q)))
}

// WaitEvent implements driver.Driver.
func (d *Driver) WaitEvent(e driver.EventHandle) error {
	if err := d.begin("WaitEvent"); err != nil {
		return err
	}
	return d.check("WaitEvent", C.callHandle(d.fns.eventSynchronize, C.uintptr_t(e)))
}

// QueryEvent implements driver.Driver.
func (d *Driver) QueryEvent(e driver.EventHandle) (bool, error) {
	if err := d.begin("QueryEvent"); err != nil {
		return false, err
	}
	return d.query("QueryEvent", C.callHandle(d.fns.eventQuery, C.uintptr_t(e)))
}

// DestroyEvent implements driver.Driver.
func (d *Driver) DestroyEvent(e driver.EventHandle) error {
	if err := d.begin("DestroyEvent"); err != nil {
		return err
	}
	return d.check("DestroyEvent", C.callHandle(d.fns.eventDestroy, C.uintptr_t(e)))
}

// QueueWaitEvent implements driver.Driver.
func (d *Driver) QueueWaitEvent(q driver.QueueHandle, e driver.EventHandle) error {
	if err := d.begin("QueueWaitEvent"); err != nil {
		return err
	}
	return d.check("QueueWaitEvent", C.callHandle2Flags(d.fns.streamWaitEvent, C.uintptr_t(q), C.uintptr_t(e), 0))
}

// ElapsedTime implements driver.Driver. CUDA measures it with a resolution of around half a microsecond.
func (d *Driver) ElapsedTime(start, end driver.EventHandle) (time.Duration, error) {
	if err := d.begin("ElapsedTime"); err != nil {
		return 0, err
	}
	var ms C.float
	if err := d.check("ElapsedTime", C.callElapsed(d.fns.eventElapsedTime, &ms, C.uintptr_t(start), C.uintptr_t(end))); err != nil {
		return 0, err
	}
	return time.Duration(float64(ms) * float64(time.Millisecond)), nil
}

// SynchronizeDevice implements driver.Driver.
func (d *Driver) SynchronizeDevice() error {
	if err := d.begin("SynchronizeDevice"); err != nil {
		return err
	}
	return d.check("SynchronizeDevice", C.callVoid(d.fns.deviceSynchronize))
}

// Close implements driver.Driver. The library stays loaded, since it holds process wide state.
func (d *Driver) Close() error {
	d.closed.Store(true)
	return nil
}
