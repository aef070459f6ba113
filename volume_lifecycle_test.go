package raidvol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"machinerun.io/raidvol"
	"machinerun.io/raidvol/mockdev"
)

func TestDescriptorValidation(t *testing.T) {
	set := mockdev.New(testDevices, testSectors)
	good := set.BlkDev()

	for _, td := range []struct {
		name string
		dev  raidvol.BlkDev
	}{
		{"too few devices", raidvol.BlkDev{
			Devices: 2, Sectors: testSectors, Read: good.Read, Write: good.Write}},
		{"too many devices", raidvol.BlkDev{
			Devices: 17, Sectors: testSectors, Read: good.Read, Write: good.Write}},
		{"too few sectors", raidvol.BlkDev{
			Devices: testDevices, Sectors: 1, Read: good.Read, Write: good.Write}},
		{"too many sectors", raidvol.BlkDev{
			Devices: testDevices, Sectors: raidvol.MaxDeviceSectors + 1,
			Read: good.Read, Write: good.Write}},
		{"missing read", raidvol.BlkDev{
			Devices: testDevices, Sectors: testSectors, Write: good.Write}},
		{"missing write", raidvol.BlkDev{
			Devices: testDevices, Sectors: testSectors, Read: good.Read}},
	} {
		td := td
		t.Run(td.name, func(t *testing.T) {
			assert.False(t, td.dev.Valid())
			assert.False(t, raidvol.Create(td.dev))

			vol := raidvol.New()
			assert.Equal(t, raidvol.Failed, vol.Start(td.dev))
			assert.Equal(t, raidvol.Stopped, vol.Status())
		})
	}

	assert.True(t, good.Valid())
}

func TestCreateRetryRecordsFailedDevice(t *testing.T) {
	set := mockdev.New(testDevices, testSectors)

	set.FailWrites(3, true)

	dev := set.BlkDev()
	require.True(t, raidvol.Create(dev))

	// The surviving devices all record device 3 as failed.
	for i := 0; i < 3; i++ {
		assert.Equal(t, int32(3), diskFailedDrive(set, i, testSectors))
	}

	vol := raidvol.New()
	assert.Equal(t, raidvol.Degraded, vol.Start(dev))
	assert.Equal(t, 3, vol.FailedDrive())
}

func TestCreateTwoWriteFailures(t *testing.T) {
	set := mockdev.New(testDevices, testSectors)

	set.FailWrites(1, true)
	set.FailWrites(2, true)

	assert.False(t, raidvol.Create(set.BlkDev()))
}

func TestStartWhileRunning(t *testing.T) {
	vol, set := newStartedVolume(t, testDevices, testSectors)

	require.True(t, vol.Write(0, sector('A'), 1))

	assert.Equal(t, raidvol.Failed, vol.Start(set.BlkDev()))

	// The running assembly is untouched.
	assert.Equal(t, raidvol.OK, vol.Status())

	buf := make([]byte, raidvol.SectorSize)
	require.True(t, vol.Read(0, buf, 1))
	assert.Equal(t, sector('A'), buf)
}

func TestStopIsIdempotent(t *testing.T) {
	vol := raidvol.New()

	assert.Equal(t, raidvol.Stopped, vol.Stop())
	assert.Equal(t, raidvol.Stopped, vol.Status())
}

func TestStopOnFailedVolumeSkipsMetadata(t *testing.T) {
	vol, set := newStartedVolume(t, testDevices, testSectors)

	set.FailDevice(1)
	set.FailDevice(3)

	buf := make([]byte, raidvol.SectorSize)
	require.False(t, vol.Read(0, buf, 1))
	require.Equal(t, raidvol.Failed, vol.Status())

	before := diskTimestamp(set, 0, testSectors)

	assert.Equal(t, raidvol.Stopped, vol.Stop())
	assert.Equal(t, raidvol.Stopped, vol.Status())

	// No metadata sweep happened on the way down.
	assert.Equal(t, before, diskTimestamp(set, 0, testSectors))
}

func TestTimestampMonotonic(t *testing.T) {
	set := mockdev.New(testDevices, testSectors)
	dev := set.BlkDev()

	require.True(t, raidvol.Create(dev))

	vol := raidvol.New()
	last := diskTimestamp(set, 0, testSectors)

	for i := 0; i < 3; i++ {
		require.Equal(t, raidvol.OK, vol.Start(dev))
		require.Equal(t, raidvol.Stopped, vol.Stop())

		now := diskTimestamp(set, 0, testSectors)
		assert.Greater(t, now, last)

		last = now
	}
}

func TestStopMetadataWriteFault(t *testing.T) {
	vol, set := newStartedVolume(t, testDevices, testSectors)

	require.True(t, vol.Write(0, sector('A'), 1))

	set.FailWrites(3, true)

	require.Equal(t, raidvol.Stopped, vol.Stop())

	// The surviving devices agree on the casualty and the new
	// timestamp, so the next assembly comes up degraded.
	for i := 0; i < 3; i++ {
		assert.Equal(t, int32(3), diskFailedDrive(set, i, testSectors))
		assert.Equal(t, uint32(1), diskTimestamp(set, i, testSectors))
	}

	require.Equal(t, raidvol.Degraded, vol.Start(set.BlkDev()))
	assert.Equal(t, 3, vol.FailedDrive())

	buf := make([]byte, raidvol.SectorSize)
	require.True(t, vol.Read(0, buf, 1))
	assert.Equal(t, sector('A'), buf)
}

func TestStopSecondMetadataWriteFault(t *testing.T) {
	vol, set := newStartedVolume(t, testDevices, testSectors)

	set.FailWrites(2, true)
	set.FailWrites(3, true)

	assert.Equal(t, raidvol.Stopped, vol.Stop())

	// Two casualties in one shutdown: the record on the reachable
	// devices names the first one; the next assembly sees device 2's
	// stale timestamp and reports the surviving majority's view.
	assert.Equal(t, int32(2), diskFailedDrive(set, 0, testSectors))
	assert.Equal(t, int32(2), diskFailedDrive(set, 1, testSectors))

	assert.Equal(t, raidvol.Degraded, vol.Start(set.BlkDev()))
	assert.Equal(t, 2, vol.FailedDrive())
}
