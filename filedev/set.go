// Package filedev backs a raidvol device set with one regular file per
// device, using positional reads and writes.
package filedev

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"machinerun.io/raidvol"
)

// Set is a device array stored as one image file per device.
type Set struct {
	files   []*os.File
	paths   []string
	sectors int
}

// Create makes devices image files of sectors sectors each under dir,
// named dev0.img .. devN.img, truncated to full size.
func Create(dir string, devices, sectors int) (*Set, error) {
	paths := make([]string, devices)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("dev%d.img", i))
	}

	size := int64(sectors) * raidvol.SectorSize
	files := make([]*os.File, 0, devices)

	for _, p := range paths {
		f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			closeAll(files)

			return nil, errors.Wrapf(err, "creating device image %s", p)
		}

		if err := f.Truncate(size); err != nil {
			f.Close()
			closeAll(files)

			return nil, errors.Wrapf(err, "sizing device image %s", p)
		}

		files = append(files, f)
	}

	return &Set{files: files, paths: paths, sectors: sectors}, nil
}

// Open opens an existing device set from the given image paths. Every
// image must hold at least sectors sectors.
func Open(paths []string, sectors int) (*Set, error) {
	size := int64(sectors) * raidvol.SectorSize
	files := make([]*os.File, 0, len(paths))

	for _, p := range paths {
		f, err := os.OpenFile(p, os.O_RDWR, 0o644)
		if err != nil {
			closeAll(files)

			return nil, errors.Wrapf(err, "opening device image %s", p)
		}

		fi, err := f.Stat()
		if err != nil {
			f.Close()
			closeAll(files)

			return nil, errors.Wrapf(err, "stat of device image %s", p)
		}

		if fi.Size() < size {
			f.Close()
			closeAll(files)

			return nil, errors.Errorf(
				"device image %s holds %d bytes, need %d", p, fi.Size(), size)
		}

		files = append(files, f)
	}

	return &Set{files: files, paths: append([]string{}, paths...), sectors: sectors}, nil
}

// BlkDev returns a descriptor whose transfer functions operate on this
// set.
func (s *Set) BlkDev() raidvol.BlkDev {
	return raidvol.BlkDev{
		Devices: len(s.files),
		Sectors: s.sectors,
		Read:    s.read,
		Write:   s.write,
	}
}

// Paths returns the image paths in device order.
func (s *Set) Paths() []string {
	return append([]string{}, s.paths...)
}

// Close closes all device images. The set is unusable afterwards.
func (s *Set) Close() error {
	var firstErr error

	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (s *Set) read(dev, sec int, buf []byte, cnt int) int {
	if !s.inRange(dev, sec, cnt) {
		return 0
	}

	want := cnt * raidvol.SectorSize

	n, err := unix.Pread(int(s.files[dev].Fd()), buf[:want],
		int64(sec)*raidvol.SectorSize)
	if err != nil {
		return 0
	}

	return n / raidvol.SectorSize
}

func (s *Set) write(dev, sec int, buf []byte, cnt int) int {
	if !s.inRange(dev, sec, cnt) {
		return 0
	}

	want := cnt * raidvol.SectorSize

	n, err := unix.Pwrite(int(s.files[dev].Fd()), buf[:want],
		int64(sec)*raidvol.SectorSize)
	if err != nil {
		return 0
	}

	return n / raidvol.SectorSize
}

func (s *Set) inRange(dev, sec, cnt int) bool {
	return dev >= 0 && dev < len(s.files) &&
		sec >= 0 && cnt >= 0 && sec+cnt <= s.sectors
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}
