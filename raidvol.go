// Package raidvol implements a software RAID-5 volume on top of a set
// of externally supplied block devices. The volume presents a linear
// array of fixed-size logical sectors, stripes them across the devices
// with one rotating parity sector per stripe, and keeps serving reads
// and writes after any single device fails. Per-device metadata in the
// last sector of every device lets a stopped volume be re-assembled,
// and Resync rebuilds a replaced device from parity.
//
// A Volume is single threaded. Callers that share one across goroutines
// must serialize access themselves.
package raidvol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	// SectorSize - bytes per sector, the unit of all I/O.
	SectorSize = 512

	// MinDevices - minimum number of devices in an array.
	MinDevices = 3

	// MaxDevices - maximum number of devices in an array.
	MaxDevices = 16

	// MinDeviceSectors - minimum number of sectors per device. Each
	// device needs at least one data row plus the metadata sector.
	MinDeviceSectors = 2

	// MaxDeviceSectors - maximum number of sectors per device.
	MaxDeviceSectors = 2 * 1024 * 1024
)

// ReadFunc reads cnt sectors from device dev starting at sector sec
// into buf, returning the number of sectors actually transferred.
type ReadFunc func(dev int, sec int, buf []byte, cnt int) int

// WriteFunc writes cnt sectors from buf to device dev starting at
// sector sec, returning the number of sectors actually transferred.
type WriteFunc func(dev int, sec int, buf []byte, cnt int) int

// BlkDev describes the device set backing a volume: the device count,
// the per-device sector count, and the two transfer functions. The
// transfer functions carry no context object; backends close over
// their own state.
type BlkDev struct {
	Devices int
	Sectors int
	Read    ReadFunc
	Write   WriteFunc
}

// Valid reports whether the descriptor satisfies the device and sector
// count bounds and carries both transfer functions.
func (d BlkDev) Valid() bool {
	if d.Devices < MinDevices || d.Devices > MaxDevices {
		return false
	}

	if d.Sectors < MinDeviceSectors || d.Sectors > MaxDeviceSectors {
		return false
	}

	return d.Read != nil && d.Write != nil
}

// Status enumerates the lifecycle states of a volume.
type Status int

const (
	// Stopped - not assembled; the state before Start and after Stop.
	Stopped Status = iota

	// OK - all devices healthy, parity consistent.
	OK

	// Degraded - exactly one device has failed; reads and writes are
	// served through parity.
	Degraded

	// Failed - two or more devices have failed; no I/O succeeds until
	// the volume is stopped.
	Failed
)

func (s Status) String() string {
	return []string{"STOPPED", "OK", "DEGRADED", "FAILED"}[s]
}

// MarshalJSON for string output rather than int
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ErrDeviceFault - a device transferred fewer sectors than requested.
var ErrDeviceFault = errors.New("device fault")

// readSector reads one sector from dev at sec. Any transfer count
// other than exactly one sector is a device fault; there are no
// retries here, escalation is the caller's job.
func (v *Volume) readSector(dev, sec int, buf []byte) error {
	if n := v.dev.Read(dev, sec, buf[:SectorSize], 1); n != 1 {
		return errors.Wrapf(ErrDeviceFault,
			"read of device %d sector %d returned %d sectors", dev, sec, n)
	}

	return nil
}

// writeSector writes one sector to dev at sec under the same fault
// convention as readSector.
func (v *Volume) writeSector(dev, sec int, buf []byte) error {
	if n := v.dev.Write(dev, sec, buf[:SectorSize], 1); n != 1 {
		return errors.Wrapf(ErrDeviceFault,
			"write of device %d sector %d returned %d sectors", dev, sec, n)
	}

	return nil
}
