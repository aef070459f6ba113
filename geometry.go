package raidvol

// locate maps a logical sector to its data device, the sector index on
// that device, and the device holding that stripe's parity.
//
// Logical sectors fill stripes row by row: row r spans sector r of
// every device, the parity slot rotates as r % D, and the D-1 data
// slots of a row are numbered left to right skipping the parity
// device. Row S-1 holds the metadata records and is never mapped.
//
// locate is total on [0, logicalSectors(D, S)) and undefined outside;
// callers bounds-check.
func locate(logical, devices int) (dataDev, devSec, parityDev int) {
	row := logical / (devices - 1)
	slot := logical % (devices - 1)

	parityDev = row % devices

	dataDev = slot
	if dataDev >= parityDev {
		dataDev++
	}

	return dataDev, row, parityDev
}

// logicalSectors returns the number of client-addressable sectors for
// a device set: the metadata row is reserved, and each remaining row
// gives up one sector to parity.
func logicalSectors(devices, sectors int) int {
	return (sectors - 1) * (devices - 1)
}
