package main

import (
	"context"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/kurakura967/go-elasticsearch-archiver/stats"
)

type fixturesArguments struct {
	Fixtures string
	To       string
	Unload   bool
}

func importFixturesAction(ctx context.Context, args arguments, fixArgs fixturesArguments) error {
	cfg, err := args.config()
	if err != nil {
		return err
	}
	a, err := args.archiver(cfg)
	if err != nil {
		return err
	}

	switch {
	case fixArgs.To != "":
		dst, err := storage(cfg, fixArgs.To)
		if err != nil {
			return err
		}
		if err := a.Convert(ctx, fixArgs.Fixtures, dst); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"fixtures": fixArgs.Fixtures, "archive": fixArgs.To}).Info("Converted fixtures")
		return nil

	case fixArgs.Unload:
		return args.run(ctx, "unload-fixtures", func(ctx context.Context) (*stats.Stats, error) {
			return a.UnloadFixtures(ctx, fixArgs.Fixtures)
		})

	default:
		return args.run(ctx, "import-fixtures", func(ctx context.Context) (*stats.Stats, error) {
			return a.LoadFixtures(ctx, fixArgs.Fixtures)
		})
	}
}

func importFixturesCommand(args *arguments) *cli.Command {
	var fixArgs fixturesArguments

	return &cli.Command{
		Name:  "import-fixtures",
		Usage: "Load a fixtures directory into the cluster, or convert it to an archive",
		Action: func(c *cli.Context) error {
			return importFixturesAction(c.Context, *args, fixArgs)
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "fixtures",
				Aliases:     []string{"f"},
				Usage:       "Fixtures directory, one subdirectory per index",
				Required:    true,
				Destination: &fixArgs.Fixtures,
			},
			&cli.StringFlag{
				Name:        "to",
				Usage:       "Write an archive here instead of loading into the cluster",
				Destination: &fixArgs.To,
			},
			&cli.BoolFlag{
				Name:        "unload",
				Usage:       "Delete the fixture indices instead of loading them",
				Destination: &fixArgs.Unload,
			},
		},
	}
}
