package raidvol

import "github.com/rs/zerolog"

// Volume is a single RAID-5 array assembled from a BlkDev descriptor.
// The zero value is not usable; call New. Between Start and Stop the
// volume exclusively owns its descriptor and scratch buffer.
type Volume struct {
	dev        BlkDev
	meta       metadata
	metaSector int
	status     Status
	size       int
	scratch    [SectorSize]byte
	log        zerolog.Logger
}

// New returns a stopped volume that logs nowhere.
func New() *Volume {
	return &Volume{status: Stopped, log: zerolog.Nop()}
}

// NewWithLogger returns a stopped volume that logs status transitions
// and fault observations through log.
func NewWithLogger(log zerolog.Logger) *Volume {
	return &Volume{
		status: Stopped,
		log:    log.With().Str("component", "raidvol").Logger(),
	}
}

// Status returns the current lifecycle state.
func (v *Volume) Status() Status {
	return v.status
}

// Size returns the number of client-addressable logical sectors.
func (v *Volume) Size() int {
	return v.size
}

// FailedDrive returns the index of the device currently believed
// failed, or -1.
func (v *Volume) FailedDrive() int {
	return int(v.meta.failedDrive)
}

// Create initializes a fresh device set: every device's metadata
// sector is written with an empty record. If a single device refuses
// the write, it is recorded as failed in the record and the sweep is
// retried once over the remaining devices; a second refusal fails the
// whole create.
func Create(dev BlkDev) bool {
	if !dev.Valid() {
		return false
	}

	rec := metadata{failedDrive: noFailedDrive, timestamp: 0}

	var sector [SectorSize]byte

	rec.encode(sector[:])

	metaSector := dev.Sectors - 1
	failed := -1

	for i := 0; i < dev.Devices; i++ {
		if i == failed {
			continue
		}

		if dev.Write(i, metaSector, sector[:], 1) == 1 {
			continue
		}

		if failed != -1 {
			return false
		}

		// First refusal: every device must record it, so the sweep
		// starts over with the updated payload.
		failed = i
		rec.failedDrive = int32(i)
		rec.encode(sector[:])
		i = -1
	}

	return true
}

// Start assembles the volume from dev and returns the post-assembly
// status. Calling Start on a volume that is not stopped is a protocol
// violation: it returns Failed and leaves the running assembly alone.
func (v *Volume) Start(dev BlkDev) Status {
	if v.status != Stopped {
		v.log.Error().Stringer("status", v.status).
			Msg("start called on a running volume")

		return Failed
	}

	if !dev.Valid() {
		return Failed
	}

	v.dev = dev
	v.metaSector = dev.Sectors - 1
	v.size = logicalSectors(dev.Devices, dev.Sectors)

	var votes [quorumSize]vote

	for i := 0; i < quorumSize; i++ {
		if err := v.readSector(i, v.metaSector, v.scratch[:]); err != nil {
			v.log.Warn().Err(err).Int("device", i).
				Msg("metadata read failed during assembly")

			continue
		}

		votes[i] = vote{meta: decodeMetadata(v.scratch[:]), ok: true}
	}

	v.status, v.meta = assemble(votes, dev.Devices)

	v.log.Info().Stringer("status", v.status).
		Int("failed_drive", int(v.meta.failedDrive)).
		Uint32("timestamp", v.meta.timestamp).
		Int("devices", dev.Devices).
		Int("size", v.size).
		Msg("assembled")

	return v.status
}

// Stop persists metadata on a working volume, releases the device
// descriptor, and always leaves the volume STOPPED. A FAILED volume is
// torn down without any metadata write.
func (v *Volume) Stop() Status {
	if v.status == Stopped {
		return Stopped
	}

	if v.status != Failed {
		v.persistShutdownMetadata()
	}

	v.log.Info().Stringer("status", v.status).Msg("stopped")

	v.dev = BlkDev{}
	v.meta = metadata{}
	v.metaSector = 0
	v.size = 0
	v.status = Stopped

	return Stopped
}

// persistShutdownMetadata increments the timestamp and writes the
// record to every live device. A device that refuses the write is
// escalated like any other fault, and the sweep restarts so devices
// written earlier observe the updated failed drive. After the volume
// fails, one final best-effort sweep runs over whatever still accepts
// writes.
func (v *Volume) persistShutdownMetadata() {
	v.meta.timestamp++

	var sector [SectorSize]byte

	skip := [MaxDevices]bool{}
	if v.meta.failedDrive != noFailedDrive {
		skip[v.meta.failedDrive] = true
	}

	for sweep := true; sweep; {
		sweep = false

		v.meta.encode(sector[:])

		for i := 0; i < v.dev.Devices; i++ {
			if skip[i] {
				continue
			}

			if err := v.writeSector(i, v.metaSector, sector[:]); err == nil {
				continue
			}

			skip[i] = true

			if v.status == OK {
				v.degrade(i, v.metaSector, "metadata write")

				sweep = true

				break
			}

			if v.status == Degraded {
				v.fail(i, v.metaSector, "metadata write")

				sweep = true

				break
			}

			// Already failed: finish the best-effort sweep.
		}
	}
}

// Resync rebuilds the failed device in place, row by row, and on full
// success clears the degraded state. It is a no-op unless the volume
// is DEGRADED.
func (v *Volume) Resync() Status {
	if v.status != Degraded {
		return v.status
	}

	failed := int(v.meta.failedDrive)

	var rebuilt [SectorSize]byte

	for devSec := 0; devSec < v.dev.Sectors-1; devSec++ {
		bad, err := v.xorReadExcluding(failed, devSec, rebuilt[:])
		if err != nil {
			v.fail(bad, devSec, "resync read")

			return v.status
		}

		if err := v.writeSector(failed, devSec, rebuilt[:]); err != nil {
			// Replacement still refuses writes.
			v.log.Warn().Err(err).Int("device", failed).Int("sector", devSec).
				Msg("resync write failed, replacement unhealthy")

			return v.status
		}
	}

	// Fresh metadata goes to the replaced device first, then to the
	// rest of the array. The timestamp is left unchanged.
	rec := metadata{failedDrive: noFailedDrive, timestamp: v.meta.timestamp}

	var sector [SectorSize]byte

	rec.encode(sector[:])

	if err := v.writeSector(failed, v.metaSector, sector[:]); err != nil {
		v.log.Warn().Err(err).Int("device", failed).
			Msg("resync metadata write failed, replacement unhealthy")

		return v.status
	}

	for dev := 0; dev < v.dev.Devices; dev++ {
		if dev == failed {
			continue
		}

		if err := v.writeSector(dev, v.metaSector, sector[:]); err != nil {
			v.degrade(dev, v.metaSector, "resync metadata write")

			return v.status
		}
	}

	v.meta = rec
	v.status = OK

	v.log.Info().Int("device", failed).Msg("resync complete")

	return v.status
}

// degrade records the first observed device fault and moves the
// volume to DEGRADED.
func (v *Volume) degrade(dev, sec int, op string) {
	v.status = Degraded
	v.meta.failedDrive = int32(dev)

	v.log.Warn().Int("device", dev).Int("sector", sec).Str("op", op).
		Msg("device fault, volume degraded")
}

// fail records a fault on a second device; the volume is terminal
// until stopped.
func (v *Volume) fail(dev, sec int, op string) {
	v.status = Failed

	v.log.Error().Int("device", dev).Int("sector", sec).Str("op", op).
		Msg("second device fault, volume failed")
}
