package cuda

import (
	"runtime"
	"testing"

	"github.com/gomlx/gocuda/driver"
	"github.com/janpfeifer/must"
)

// benchmarkQuery measures the cost of a minimal stream operation with device 1 current, and device 0 (the
// stream's device) current.
func benchmarkQuery(b *testing.B, query func(s *Stream) (bool, error), otherDeviceCurrent bool) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	rt := must.M1(Open(*flagDriverName, nil))
	defer func() { must.M(rt.Close()) }()
	if rt.NumDevices() < 2 {
		b.Skipf("%s has fewer than 2 devices", rt)
	}
	if otherDeviceCurrent {
		must.M(rt.Driver().SetCurrent(1))
	}
	s := must.M1(must.M1(rt.Device(0)).CreateStream(false))
	defer func() { must.M(s.Destroy()) }()
	b.ResetTimer()
	for range b.N {
		_ = must.M1(query(s))
	}
}

func BenchmarkStream_QueryGuarded(b *testing.B) {
	b.Run("switch", func(b *testing.B) {
		benchmarkQuery(b, (*Stream).Query, true)
	})
	b.Run("no-switch", func(b *testing.B) {
		benchmarkQuery(b, (*Stream).Query, false)
	})
}

func BenchmarkStream_QueryAssumedCurrent(b *testing.B) {
	benchmarkQuery(b, func(s *Stream) (bool, error) {
		return s.AssumeCurrent().Query()
	}, false)
}

func BenchmarkDevice_WithCurrent(b *testing.B) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	rt := must.M1(Open(*flagDriverName, nil))
	defer func() { must.M(rt.Close()) }()
	if rt.NumDevices() == 0 {
		b.Skipf("%s has no devices", rt)
	}
	device := rt.Devices()[rt.NumDevices()-1]
	must.M(rt.Driver().SetCurrent(driver.DeviceID(0)))
	b.ResetTimer()
	for range b.N {
		must.M(device.WithCurrent(func(current CurrentDevice) error {
			_, err := current.DefaultStream().Query()
			return err
		}))
	}
}
