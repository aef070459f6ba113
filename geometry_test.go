package raidvol

import "testing"

func TestLocateBijective(t *testing.T) {
	for devices := MinDevices; devices <= MaxDevices; devices++ {
		for _, sectors := range []int{2, 8, 33} {
			size := logicalSectors(devices, sectors)
			seen := map[[2]int]int{}

			for logical := 0; logical < size; logical++ {
				dataDev, devSec, parityDev := locate(logical, devices)

				if dataDev < 0 || dataDev >= devices {
					t.Fatalf("locate(%d, %d): data device %d out of range",
						logical, devices, dataDev)
				}

				if devSec < 0 || devSec >= sectors-1 {
					t.Fatalf("locate(%d, %d): device sector %d maps into metadata row (sectors=%d)",
						logical, devices, devSec, sectors)
				}

				if dataDev == parityDev {
					t.Fatalf("locate(%d, %d): data device equals parity device %d",
						logical, devices, dataDev)
				}

				if parityDev != devSec%devices {
					t.Fatalf("locate(%d, %d): parity device %d, expected %d",
						logical, devices, parityDev, devSec%devices)
				}

				key := [2]int{dataDev, devSec}
				if prev, ok := seen[key]; ok {
					t.Fatalf("locate collision: logical %d and %d both map to device %d sector %d",
						prev, logical, dataDev, devSec)
				}

				seen[key] = logical
			}

			if len(seen) != size {
				t.Fatalf("devices=%d sectors=%d: %d placements for %d logical sectors",
					devices, sectors, len(seen), size)
			}
		}
	}
}

func TestLocateStripeMajor(t *testing.T) {
	// The first D-1 logical sectors fill row 0; the next D-1 fill
	// row 1.
	const devices = 5

	for logical := 0; logical < 2*(devices-1); logical++ {
		_, devSec, _ := locate(logical, devices)

		expected := logical / (devices - 1)
		if devSec != expected {
			t.Errorf("locate(%d, %d): device sector %d, expected %d",
				logical, devices, devSec, expected)
		}
	}
}

func TestLogicalSectors(t *testing.T) {
	for _, td := range []struct {
		devices  int
		sectors  int
		expected int
	}{
		{3, 2, 2},
		{4, 8, 21},
		{16, 1024, 15345},
	} {
		found := logicalSectors(td.devices, td.sectors)
		if found != td.expected {
			t.Errorf("logicalSectors(%d, %d) got %d, expected %d",
				td.devices, td.sectors, found, td.expected)
		}
	}
}

func TestXorSector(t *testing.T) {
	a := make([]byte, SectorSize)
	b := make([]byte, SectorSize)

	for i := range a {
		a[i] = byte(i)
		b[i] = byte(3 * i)
	}

	expected := make([]byte, SectorSize)
	for i := range expected {
		expected[i] = a[i] ^ b[i]
	}

	xorSector(a, b)

	for i := range a {
		if a[i] != expected[i] {
			t.Fatalf("xorSector byte %d: got %#x, expected %#x",
				i, a[i], expected[i])
		}
	}

	// Folding the same buffer in twice cancels out.
	xorSector(a, b)

	for i := range a {
		if a[i] != byte(i) {
			t.Fatalf("double xor byte %d: got %#x, expected %#x",
				i, a[i], byte(i))
		}
	}
}
