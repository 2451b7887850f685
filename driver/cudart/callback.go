//go:build linux && cgo

package cudart

// Host functions enqueued with LaunchHostFunc are called back by the CUDA runtime on one of its own threads.
// This file can only hold declarations in its preamble, because it uses //export.

/*
#include <stdint.h>
*/
import "C"
import (
	"runtime/cgo"

	"k8s.io/klog/v2"
)

//export gocudaHostFuncCallback
func gocudaHostFuncCallback(userData C.uintptr_t) {
	handle := cgo.Handle(userData)
	defer handle.Delete()
	fn, ok := handle.Value().(func())
	if !ok {
		klog.Errorf("cudart: host function callback with invalid user data %T", handle.Value())
		return
	}
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("cudart: host function panicked: %v", r)
		}
	}()
	fn()
}
