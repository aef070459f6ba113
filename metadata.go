package raidvol

import "encoding/binary"

// metadataSize is the serialized size of the per-device metadata
// record: failed drive index (int32) followed by timestamp (uint32),
// little endian.
const metadataSize = 8

// The metadata record must fit in one sector, and word-wise XOR needs
// a sector to be a whole number of words.
const (
	_ = uint(SectorSize - metadataSize)
	_ = uint(0 - SectorSize%4)
)

// noFailedDrive marks a record that knows of no failed device.
const noFailedDrive = -1

// quorumSize is the number of devices consulted at assembly time,
// independent of the array width. Three witnesses suffice under the
// single-failure model: any configuration needing more disagreement
// than one witness implies a second failure.
const quorumSize = 3

// metadata is the record persisted in the last sector of every
// device. The rest of that sector is zero-filled.
type metadata struct {
	failedDrive int32
	timestamp   uint32
}

// encode serializes the record at the front of buf and zero-fills the
// remainder. buf must be a full sector.
func (m metadata) encode(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.failedDrive))
	binary.LittleEndian.PutUint32(buf[4:8], m.timestamp)
}

func decodeMetadata(buf []byte) metadata {
	return metadata{
		failedDrive: int32(binary.LittleEndian.Uint32(buf[0:4])),
		timestamp:   binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// vote is one quorum device's metadata as recovered during assembly.
// ok is false when the metadata read itself failed.
type vote struct {
	meta metadata
	ok   bool
}

// assemble applies the assembly decision table to the metadata votes
// of the first three devices and returns the post-assembly status
// together with the believed metadata. devices is the array width,
// used to range-check recovered failed-drive fields.
func assemble(votes [quorumSize]vote, devices int) (Status, metadata) {
	present := 0
	absent := -1

	for i, vt := range votes {
		if vt.ok {
			present++
		} else {
			absent = i
		}
	}

	switch present {
	case quorumSize:
		return assembleFull(votes, devices)
	case quorumSize - 1:
		return assemblePair(votes, absent)
	default:
		return Failed, metadata{}
	}
}

// assembleFull decides from three votes.
func assembleFull(votes [quorumSize]vote, devices int) (Status, metadata) {
	t := [quorumSize]uint32{}
	f := [quorumSize]int32{}

	for i, vt := range votes {
		t[i] = vt.meta.timestamp
		f[i] = vt.meta.failedDrive
	}

	switch {
	case t[0] == t[1] && t[1] == t[2]:
		// Unanimous timestamps require a unanimous, in-range failed
		// drive field.
		if f[0] != f[1] || f[1] != f[2] {
			return Failed, metadata{}
		}

		if f[0] == noFailedDrive {
			return OK, metadata{failedDrive: noFailedDrive, timestamp: t[0]}
		}

		if f[0] < 0 || int(f[0]) >= devices {
			return Failed, metadata{}
		}

		return Degraded, metadata{failedDrive: f[0], timestamp: t[0]}

	case t[0] != t[1] && t[1] != t[2] && t[0] != t[2]:
		// Three-way disagreement means at least two torn shutdowns.
		return Failed, metadata{}
	}

	// Exactly one timestamp disagrees. The quorum devices are devices
	// 0..2, so the odd vote's index is also its device index.
	var odd int

	switch {
	case t[0] == t[1]:
		odd = 2
	case t[0] == t[2]:
		odd = 1
	default:
		odd = 0
	}

	a, b := (odd+1)%quorumSize, (odd+2)%quorumSize
	if f[a] == int32(odd) && f[b] == int32(odd) {
		// The majority already blames the odd device.
		return Degraded,
			metadata{failedDrive: int32(odd), timestamp: t[a]}
	}

	return Failed, metadata{}
}

// assemblePair decides from two votes after the metadata read on
// quorum device absent failed.
func assemblePair(votes [quorumSize]vote, absent int) (Status, metadata) {
	a, b := (absent+1)%quorumSize, (absent+2)%quorumSize
	ma, mb := votes[a].meta, votes[b].meta

	if ma.timestamp != mb.timestamp || ma.failedDrive != mb.failedDrive {
		return Failed, metadata{}
	}

	// The surviving pair may know of no failure, or already blame the
	// absent device. Anything else is a second failure.
	if ma.failedDrive != noFailedDrive && ma.failedDrive != int32(absent) {
		return Failed, metadata{}
	}

	return Degraded, metadata{failedDrive: int32(absent), timestamp: ma.timestamp}
}
