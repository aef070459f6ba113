package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var version string

var logger = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.RFC3339,
}).With().Timestamp().Logger()

func main() {
	app := &cli.App{
		Name:    "raidvol-demo",
		Version: version,
		Usage:   "Play around or test raidvol arrays",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log at debug level",
			},
		},
		Before: func(c *cli.Context) error {
			level := zerolog.InfoLevel
			if c.Bool("debug") {
				level = zerolog.DebugLevel
			}

			logger = logger.Level(level)

			return nil
		},
		Commands: []*cli.Command{
			&createCommand,
			&statusCommand,
			&readCommand,
			&writeCommand,
			&resyncCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal().Err(err).Msg("command failed")
	}
}
