package compute

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceTypeValues(t *testing.T) {
	// values follow the OpenCL bitfield
	assert.Equal(t, DeviceType(1), DeviceDefault)
	assert.Equal(t, DeviceType(2), DeviceCPU)
	assert.Equal(t, DeviceType(4), DeviceGPU)
	assert.Equal(t, DeviceType(8), DeviceAccelerator)
	assert.Equal(t, DeviceType(0xFFFFFFFF), DeviceAll)
}

func TestDeviceTypeString(t *testing.T) {
	assert.Equal(t, "gpu", DeviceGPU.String())
	assert.Equal(t, "cpu", DeviceCPU.String())
	assert.Equal(t, "all", DeviceAll.String())
	assert.Equal(t, "unknown", DeviceType(0x40).String())
}
