package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"machinerun.io/raidvol"
	"machinerun.io/raidvol/filedev"
)

// arraySpecFile is the descriptor written next to the device images.
const arraySpecFile = "array.yaml"

// arraySpec describes a file-backed array.
type arraySpec struct {
	ID      string   `yaml:"id"`
	Sectors int      `yaml:"sectors"`
	Devices []string `yaml:"devices"`
}

func loadArraySpec(dir string) (arraySpec, error) {
	var spec arraySpec

	p := filepath.Join(dir, arraySpecFile)

	content, err := os.ReadFile(p)
	if err != nil {
		return spec, errors.Wrapf(err, "reading array spec %s", p)
	}

	if err := yaml.Unmarshal(content, &spec); err != nil {
		return spec, errors.Wrapf(err, "parsing array spec %s", p)
	}

	return spec, nil
}

func (a arraySpec) save(dir string) error {
	content, err := yaml.Marshal(&a)
	if err != nil {
		return errors.Wrap(err, "serializing array spec")
	}

	p := filepath.Join(dir, arraySpecFile)

	return errors.Wrapf(os.WriteFile(p, content, 0o644), "writing %s", p)
}

func (a arraySpec) open() (*filedev.Set, error) {
	return filedev.Open(a.Devices, a.Sectors)
}

var createCommand = cli.Command{
	Name:      "create",
	Usage:     "create and initialize a new file-backed array",
	ArgsUsage: "<dir>",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "devices",
			Usage: "number of devices in the array",
			Value: 4,
		},
		&cli.IntFlag{
			Name:  "sectors",
			Usage: "sectors per device",
			Value: 1024,
		},
	},
	Action: doCreate,
}

func doCreate(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("create takes exactly one directory argument")
	}

	dir := c.Args().First()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}

	set, err := filedev.Create(dir, c.Int("devices"), c.Int("sectors"))
	if err != nil {
		return err
	}
	defer set.Close()

	if !raidvol.Create(set.BlkDev()) {
		return errors.New("array initialization failed")
	}

	spec := arraySpec{
		ID:      uuid.NewV4().String(),
		Sectors: c.Int("sectors"),
		Devices: set.Paths(),
	}

	if err := spec.save(dir); err != nil {
		return err
	}

	logger.Info().Str("id", spec.ID).
		Int("devices", c.Int("devices")).
		Int("sectors", c.Int("sectors")).
		Msg("array created")

	return nil
}

var statusCommand = cli.Command{
	Name:      "status",
	Usage:     "assemble an array and report its status",
	ArgsUsage: "<dir>",
	Action:    doStatus,
}

func doStatus(c *cli.Context) error {
	return withArray(c, func(spec arraySpec, vol *raidvol.Volume) error {
		fmt.Printf("id: %s\nstatus: %s\nsize: %d sectors\nfailed drive: %d\n",
			spec.ID, vol.Status(), vol.Size(), vol.FailedDrive())

		return nil
	})
}

var readCommand = cli.Command{
	Name:      "read",
	Usage:     "read logical sectors to stdout",
	ArgsUsage: "<dir>",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "sector", Usage: "first logical sector"},
		&cli.IntFlag{Name: "count", Usage: "number of sectors", Value: 1},
	},
	Action: doRead,
}

func doRead(c *cli.Context) error {
	return withArray(c, func(spec arraySpec, vol *raidvol.Volume) error {
		buf := make([]byte, c.Int("count")*raidvol.SectorSize)

		if !vol.Read(c.Int("sector"), buf, c.Int("count")) {
			return errors.Errorf("read failed, array is %s", vol.Status())
		}

		_, err := os.Stdout.Write(buf)

		return err
	})
}

var writeCommand = cli.Command{
	Name:      "write",
	Usage:     "write stdin to logical sectors, zero-padded to a full sector",
	ArgsUsage: "<dir>",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "sector", Usage: "first logical sector"},
	},
	Action: doWrite,
}

func doWrite(c *cli.Context) error {
	return withArray(c, func(spec arraySpec, vol *raidvol.Volume) error {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return errors.Wrap(err, "reading stdin")
		}

		count := (len(content) + raidvol.SectorSize - 1) / raidvol.SectorSize
		buf := make([]byte, count*raidvol.SectorSize)
		copy(buf, content)

		if !vol.Write(c.Int("sector"), buf, count) {
			return errors.Errorf("write failed, array is %s", vol.Status())
		}

		logger.Info().Int("sectors", count).Msg("written")

		return nil
	})
}

var resyncCommand = cli.Command{
	Name:      "resync",
	Usage:     "rebuild the failed device of a degraded array",
	ArgsUsage: "<dir>",
	Action:    doResync,
}

func doResync(c *cli.Context) error {
	return withArray(c, func(spec arraySpec, vol *raidvol.Volume) error {
		if vol.Status() != raidvol.Degraded {
			logger.Info().Stringer("status", vol.Status()).
				Msg("nothing to resync")

			return nil
		}

		fmt.Printf("resync: %s\n", vol.Resync())

		return nil
	})
}

// withArray assembles the array described in the directory argument,
// runs fn, and stops the volume again.
func withArray(c *cli.Context, fn func(arraySpec, *raidvol.Volume) error) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one directory argument")
	}

	spec, err := loadArraySpec(c.Args().First())
	if err != nil {
		return err
	}

	set, err := spec.open()
	if err != nil {
		return err
	}
	defer set.Close()

	vol := raidvol.NewWithLogger(logger)

	st := vol.Start(set.BlkDev())
	defer vol.Stop()

	if st == raidvol.Failed {
		return errors.Errorf("array did not assemble: %s", st)
	}

	return fn(spec, vol)
}
