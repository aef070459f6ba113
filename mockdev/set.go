// Package mockdev provides an in-memory device set with per-device
// fault injection, for exercising raidvol volumes without real disks.
package mockdev

import "machinerun.io/raidvol"

// Set is a zero-filled in-memory device array. Reads and writes on a
// device can be made to fail and later restored, simulating a dead or
// replaced disk.
type Set struct {
	devices int
	sectors int
	data    [][]byte
	badRead []bool
	badWrit []bool
}

// New returns a set of devices zero-filled sectors each.
func New(devices, sectors int) *Set {
	s := &Set{
		devices: devices,
		sectors: sectors,
		data:    make([][]byte, devices),
		badRead: make([]bool, devices),
		badWrit: make([]bool, devices),
	}

	for i := range s.data {
		s.data[i] = make([]byte, sectors*raidvol.SectorSize)
	}

	return s
}

// BlkDev returns a descriptor whose transfer functions operate on this
// set.
func (s *Set) BlkDev() raidvol.BlkDev {
	return raidvol.BlkDev{
		Devices: s.devices,
		Sectors: s.sectors,
		Read:    s.read,
		Write:   s.write,
	}
}

// FailDevice makes every read and write on dev fail until Restore.
func (s *Set) FailDevice(dev int) {
	s.badRead[dev] = true
	s.badWrit[dev] = true
}

// FailReads toggles read faults on dev.
func (s *Set) FailReads(dev int, fail bool) {
	s.badRead[dev] = fail
}

// FailWrites toggles write faults on dev.
func (s *Set) FailWrites(dev int, fail bool) {
	s.badWrit[dev] = fail
}

// Restore clears all fault injection on dev. The device's contents are
// whatever was last written, as with a disk that went away and came
// back.
func (s *Set) Restore(dev int) {
	s.badRead[dev] = false
	s.badWrit[dev] = false
}

// Wipe zero-fills dev, as with a factory-fresh replacement disk.
func (s *Set) Wipe(dev int) {
	for i := range s.data[dev] {
		s.data[dev][i] = 0
	}
}

// Sector returns a copy of the raw sector content of dev at sec,
// bypassing fault injection.
func (s *Set) Sector(dev, sec int) []byte {
	out := make([]byte, raidvol.SectorSize)
	copy(out, s.data[dev][sec*raidvol.SectorSize:])

	return out
}

func (s *Set) read(dev, sec int, buf []byte, cnt int) int {
	if dev < 0 || dev >= s.devices || sec < 0 || cnt < 0 || s.badRead[dev] {
		return 0
	}

	n := 0
	for ; n < cnt && sec+n < s.sectors; n++ {
		off := (sec + n) * raidvol.SectorSize
		copy(buf[n*raidvol.SectorSize:(n+1)*raidvol.SectorSize],
			s.data[dev][off:off+raidvol.SectorSize])
	}

	return n
}

func (s *Set) write(dev, sec int, buf []byte, cnt int) int {
	if dev < 0 || dev >= s.devices || sec < 0 || cnt < 0 || s.badWrit[dev] {
		return 0
	}

	n := 0
	for ; n < cnt && sec+n < s.sectors; n++ {
		off := (sec + n) * raidvol.SectorSize
		copy(s.data[dev][off:off+raidvol.SectorSize],
			buf[n*raidvol.SectorSize:(n+1)*raidvol.SectorSize])
	}

	return n
}
