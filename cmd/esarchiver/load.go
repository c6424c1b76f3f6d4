package main

import (
	"context"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	esarchiver "github.com/kurakura967/go-elasticsearch-archiver"
	"github.com/kurakura967/go-elasticsearch-archiver/docs"
	"github.com/kurakura967/go-elasticsearch-archiver/stats"
)

type loadArguments struct {
	Dir          string
	SkipExisting bool
	UseCreate    bool
	NoRefresh    bool
}

func (x loadArguments) options() []esarchiver.Option {
	opts := []esarchiver.Option{
		esarchiver.OnReject(func(e *docs.DocumentRejectedError) {
			logger.WithFields(logrus.Fields{
				"index":  e.Index,
				"id":     e.ID,
				"status": e.Status,
			}).Debug("Rejected document")
		}),
	}
	if x.SkipExisting {
		opts = append(opts, esarchiver.SkipExisting())
	}
	if x.UseCreate {
		opts = append(opts, esarchiver.UseCreate())
	}
	if x.NoRefresh {
		opts = append(opts, esarchiver.WithoutRefresh())
	}
	return opts
}

func loadAction(ctx context.Context, args arguments, loadArgs loadArguments) error {
	cfg, err := args.config()
	if err != nil {
		return err
	}
	a, err := args.archiver(cfg, loadArgs.options()...)
	if err != nil {
		return err
	}
	src, err := storage(cfg, loadArgs.Dir)
	if err != nil {
		return err
	}

	return args.run(ctx, "load", func(ctx context.Context) (*stats.Stats, error) {
		return a.Load(ctx, src)
	})
}

func unloadAction(ctx context.Context, args arguments, dir string) error {
	cfg, err := args.config()
	if err != nil {
		return err
	}
	a, err := args.archiver(cfg)
	if err != nil {
		return err
	}
	src, err := storage(cfg, dir)
	if err != nil {
		return err
	}

	return args.run(ctx, "unload", func(ctx context.Context) (*stats.Stats, error) {
		return a.Unload(ctx, src)
	})
}

func dirFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "dir",
		Aliases:     []string{"d"},
		Usage:       "Archive directory or s3://bucket/prefix",
		Required:    true,
		Destination: dst,
	}
}

func loadCommand(args *arguments) *cli.Command {
	var loadArgs loadArguments

	return &cli.Command{
		Name:  "load",
		Usage: "Restore an archive, replacing the indices it holds",
		Action: func(c *cli.Context) error {
			return loadAction(c.Context, *args, loadArgs)
		},
		Flags: []cli.Flag{
			dirFlag(&loadArgs.Dir),
			&cli.BoolFlag{
				Name:        "skip-existing",
				Usage:       "Leave indices that already exist untouched",
				Destination: &loadArgs.SkipExisting,
			},
			&cli.BoolFlag{
				Name:        "use-create",
				Usage:       "Reject documents that already exist instead of overwriting them",
				Destination: &loadArgs.UseCreate,
			},
			&cli.BoolFlag{
				Name:        "no-refresh",
				Usage:       "Do not refresh restored indices",
				Destination: &loadArgs.NoRefresh,
			},
		},
	}
}

func unloadCommand(args *arguments) *cli.Command {
	var dir string

	return &cli.Command{
		Name:  "unload",
		Usage: "Delete every index an archive holds",
		Action: func(c *cli.Context) error {
			return unloadAction(c.Context, *args, dir)
		},
		Flags: []cli.Flag{dirFlag(&dir)},
	}
}
