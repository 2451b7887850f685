package driver

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type nopDriver struct{ Driver }

func (nopDriver) Name() string { return "nop" }

func TestRegistry(t *testing.T) {
	var gotOptions Options
	Register("test_nop", func(options Options) (Driver, error) {
		gotOptions = options
		return nopDriver{}, nil
	})
	Register("test_broken", func(options Options) (Driver, error) {
		return nil, errors.New("no hardware")
	})
	require.Contains(t, Available(), "test_nop")
	require.Contains(t, Available(), "test_broken")

	drv, err := Open("test_nop", Options{"devices": 3})
	require.NoError(t, err)
	require.Equal(t, "nop", drv.Name())
	require.Equal(t, Options{"devices": 3}, gotOptions)

	_, err = Open("test_broken", nil)
	require.ErrorContains(t, err, "failed to open driver \"test_broken\"")
	require.ErrorContains(t, err, "no hardware")

	_, err = Open("does_not_exist", nil)
	require.ErrorContains(t, err, "not registered")
}

func TestDefaultName(t *testing.T) {
	t.Setenv(DriverEnv, "")
	require.Equal(t, DefaultDriverName, DefaultName())
	t.Setenv(DriverEnv, "sim")
	require.Equal(t, "sim", DefaultName())
}

func TestOptions(t *testing.T) {
	options := Options{"devices": int64(4), "strict": false, "topology": "/tmp/x.yaml", "bad": 1.5}
	n, err := options.Int("devices", 2)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	n, err = options.Int("missing", 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, err = options.Int("bad", 2)
	require.Error(t, err)

	strict, err := options.Bool("strict", true)
	require.NoError(t, err)
	require.False(t, strict)
	_, err = options.Bool("devices", true)
	require.Error(t, err)

	path, err := options.String("topology", "")
	require.NoError(t, err)
	require.Equal(t, "/tmp/x.yaml", path)
}

func TestError(t *testing.T) {
	err := NewError("CreateQueue", StatusMemoryAllocation, "out of queues on device %d", 1)
	require.ErrorContains(t, err, "CreateQueue")
	require.ErrorContains(t, err, "MemoryAllocation")
	require.ErrorContains(t, err, "out of queues on device 1")
	require.Equal(t, StatusMemoryAllocation, Code(err))
	require.Equal(t, StatusMemoryAllocation, Code(errors.WithMessage(err, "creating stream")))
	require.Equal(t, StatusSuccess, Code(nil))
	require.Equal(t, StatusUnknown, Code(errors.New("other")))
	require.Equal(t, "Status(12345)", Status(12345).String())
	require.Equal(t, "InvalidResourceHandle", StatusInvalidResourceHandle.String())
	require.Equal(t, "NotReady", StatusNotReady.String())
	for _, status := range StatusValues() {
		parsed, err := StatusString(status.String())
		require.NoError(t, err)
		require.Equal(t, status, parsed)
	}
	require.False(t, Status(12345).IsAStatus())
}
