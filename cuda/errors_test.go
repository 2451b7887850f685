package cuda

import (
	"testing"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors(t *testing.T) {
	cause := driver.NewError("SetCurrent", driver.StatusInvalidDevice, "no such device")

	err := newContextSwitchError(3, cause)
	var switchErr *ContextSwitchError
	require.ErrorAs(t, err, &switchErr)
	assert.Equal(t, driver.DeviceID(3), switchErr.Device)
	assert.Contains(t, err.Error(), "failed to make device 3 current")
	assert.Equal(t, driver.StatusInvalidDevice, driver.Code(err))
	assert.Equal(t, "failed to read the current device: "+cause.Error(),
		(&ContextSwitchError{Device: UnknownDevice, err: cause}).Error())

	err = errors.WithMessage(newResourceCreationError(1, "event", cause), "while testing")
	var creationErr *ResourceCreationError
	require.ErrorAs(t, err, &creationErr)
	assert.Equal(t, "event", creationErr.Resource)
	assert.Contains(t, err.Error(), "failed to create event on device 1")
	require.ErrorIs(t, err, cause)

	err = newSynchronizationError(2, "Stream[device=2, default]", cause)
	var syncErr *SynchronizationError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "Stream[device=2, default]", syncErr.Target)
	assert.False(t, errors.As(err, &switchErr))

	crossErr := &CrossDeviceError{EventDevice: 0, StreamDevice: 1}
	assert.Equal(t, "event of device 0 can't be recorded on a stream of device 1", crossErr.Error())
	assert.Equal(t, driver.StatusUnknown, driver.Code(crossErr))
}
