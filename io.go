package raidvol

import "encoding/binary"

// Read copies count logical sectors starting at start into dst, which
// is interpreted as count consecutive sector-sized regions. It returns
// false on bad arguments or once the volume can no longer satisfy a
// sector; partially filled output is possible on failure.
func (v *Volume) Read(start int, dst []byte, count int) bool {
	if !v.ioArgsOK(start, dst, count) {
		return false
	}

	for i := 0; i < count; i++ {
		if !v.readLogical(start+i, dst[i*SectorSize:(i+1)*SectorSize]) {
			return false
		}
	}

	return true
}

// Write stores count logical sectors from src starting at start, under
// the same argument convention as Read.
func (v *Volume) Write(start int, src []byte, count int) bool {
	if !v.ioArgsOK(start, src, count) {
		return false
	}

	for i := 0; i < count; i++ {
		if !v.writeLogical(start+i, src[i*SectorSize:(i+1)*SectorSize]) {
			return false
		}
	}

	return true
}

// ioArgsOK checks the shared Read/Write preconditions. A violation
// causes a clean false with no device traffic.
func (v *Volume) ioArgsOK(start int, buf []byte, count int) bool {
	if v.status != OK && v.status != Degraded {
		return false
	}

	if buf == nil || count < 0 || start < 0 {
		return false
	}

	if start+count > v.size {
		return false
	}

	return len(buf) >= count*SectorSize
}

// readLogical fetches one logical sector, escalating volume status on
// observed device faults.
func (v *Volume) readLogical(logical int, dst []byte) bool {
	for {
		dataDev, devSec, _ := locate(logical, v.dev.Devices)

		if v.status == Degraded && int32(dataDev) == v.meta.failedDrive {
			// Dead data device: rebuild the sector from the rest of
			// the stripe.
			if bad, err := v.xorReadExcluding(dataDev, devSec, dst); err != nil {
				v.fail(bad, devSec, "reconstructing read")

				return false
			}

			return true
		}

		err := v.readSector(dataDev, devSec, dst)
		if err == nil {
			return true
		}

		if v.status == Degraded {
			v.fail(dataDev, devSec, "read")

			return false
		}

		v.degrade(dataDev, devSec, "read")

		// Retry the same logical sector in degraded mode.
	}
}

// writeLogical stores one logical sector. A fault on the healthy path
// degrades the volume and the sector is retried; any fault on a
// degraded path is terminal.
func (v *Volume) writeLogical(logical int, src []byte) bool {
	for {
		dataDev, devSec, parityDev := locate(logical, v.dev.Devices)

		if v.status == OK {
			ok, retry := v.writeHealthy(dataDev, devSec, parityDev, src)
			if retry {
				continue
			}

			return ok
		}

		failed := int(v.meta.failedDrive)

		switch failed {
		case dataDev:
			return v.writeDataDead(dataDev, devSec, parityDev, src)
		case parityDev:
			return v.writeParityDead(dataDev, devSec, src)
		default:
			return v.writeThirdDead(dataDev, devSec, parityDev, failed, src)
		}
	}
}

// writeHealthy performs the all-devices-live write: data first, then
// parity recomputed from the whole stripe. Any fault degrades the
// volume and asks the caller to retry the sector.
func (v *Volume) writeHealthy(dataDev, devSec, parityDev int, src []byte) (ok, retry bool) {
	if err := v.writeSector(dataDev, devSec, src); err != nil {
		v.degrade(dataDev, devSec, "write")

		return false, true
	}

	var parity [SectorSize]byte

	if bad, err := v.xorReadExcluding(parityDev, devSec, parity[:]); err != nil {
		v.degrade(bad, devSec, "parity read")

		return false, true
	}

	if err := v.writeSector(parityDev, devSec, parity[:]); err != nil {
		v.degrade(parityDev, devSec, "parity write")

		return false, true
	}

	return true, false
}

// writeDataDead handles a write whose data device is the failed one.
// The sector itself cannot be written; instead parity is recomputed as
// if the dead device held src, which makes the new value recoverable
// by reconstruction.
func (v *Volume) writeDataDead(dataDev, devSec, parityDev int, src []byte) bool {
	var parity [SectorSize]byte

	bad, err := v.recomputeParityWithSubstitute(parityDev, dataDev, src, devSec, parity[:])
	if err != nil {
		v.fail(bad, devSec, "degraded parity read")

		return false
	}

	if err := v.writeSector(parityDev, devSec, parity[:]); err != nil {
		v.fail(parityDev, devSec, "degraded parity write")

		return false
	}

	return true
}

// writeParityDead handles a write whose stripe parity lives on the
// failed device: the data is written directly and parity is left for
// resync.
func (v *Volume) writeParityDead(dataDev, devSec int, src []byte) bool {
	if err := v.writeSector(dataDev, devSec, src); err != nil {
		v.fail(dataDev, devSec, "degraded write")

		return false
	}

	return true
}

// writeThirdDead handles a write in a stripe where the failed device
// holds neither the target data sector nor the parity. The dead
// device's current value must be captured before the data write
// clobbers a sector that reconstruction depends on.
func (v *Volume) writeThirdDead(dataDev, devSec, parityDev, failed int, src []byte) bool {
	var rebuilt [SectorSize]byte

	if bad, err := v.xorReadExcluding(failed, devSec, rebuilt[:]); err != nil {
		v.fail(bad, devSec, "reconstructing stripe")

		return false
	}

	if err := v.writeSector(dataDev, devSec, src); err != nil {
		v.fail(dataDev, devSec, "degraded write")

		return false
	}

	var parity [SectorSize]byte

	bad, err := v.recomputeParityWithSubstitute(parityDev, failed, rebuilt[:], devSec, parity[:])
	if err != nil {
		v.fail(bad, devSec, "degraded parity read")

		return false
	}

	if err := v.writeSector(parityDev, devSec, parity[:]); err != nil {
		v.fail(parityDev, devSec, "degraded parity write")

		return false
	}

	return true
}

// xorReadExcluding XORs the devSec sector of every device except
// excluded into out. On a read fault it returns the offending device
// index along with the error.
func (v *Volume) xorReadExcluding(excluded, devSec int, out []byte) (int, error) {
	zeroSector(out)

	for dev := 0; dev < v.dev.Devices; dev++ {
		if dev == excluded {
			continue
		}

		if err := v.readSector(dev, devSec, v.scratch[:]); err != nil {
			return dev, err
		}

		xorSector(out, v.scratch[:])
	}

	return -1, nil
}

// recomputeParityWithSubstitute computes the stripe parity at devSec
// as if substituteDev held substitute, reading every other non-parity
// device.
func (v *Volume) recomputeParityWithSubstitute(
	parityDev, substituteDev int, substitute []byte, devSec int, out []byte) (int, error) {
	zeroSector(out)

	for dev := 0; dev < v.dev.Devices; dev++ {
		if dev == parityDev {
			continue
		}

		if dev == substituteDev {
			xorSector(out, substitute)

			continue
		}

		if err := v.readSector(dev, devSec, v.scratch[:]); err != nil {
			return dev, err
		}

		xorSector(out, v.scratch[:])
	}

	return -1, nil
}

// xorSector folds src into dst word-wise over one sector.
func xorSector(dst, src []byte) {
	for i := 0; i < SectorSize; i += 4 {
		d := binary.LittleEndian.Uint32(dst[i:])
		s := binary.LittleEndian.Uint32(src[i:])
		binary.LittleEndian.PutUint32(dst[i:], d^s)
	}
}

func zeroSector(buf []byte) {
	for i := range buf[:SectorSize] {
		buf[i] = 0
	}
}
