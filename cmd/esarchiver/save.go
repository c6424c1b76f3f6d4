package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	cli "github.com/urfave/cli/v2"

	esarchiver "github.com/kurakura967/go-elasticsearch-archiver"
	"github.com/kurakura967/go-elasticsearch-archiver/archive"
	"github.com/kurakura967/go-elasticsearch-archiver/stats"
)

type saveArguments struct {
	Indices     cli.StringSlice
	Dir         string
	Compression string
	PageSize    int
	Query       string
}

func (x saveArguments) options() ([]esarchiver.Option, error) {
	var opts []esarchiver.Option
	if x.Compression != "" {
		level, err := archive.ParseCompressionLevel(x.Compression)
		if err != nil {
			return nil, err
		}
		opts = append(opts, esarchiver.WithCompression(level))
	}
	if x.PageSize > 0 {
		opts = append(opts, esarchiver.WithPageSize(x.PageSize))
	}
	if x.Query != "" {
		query, err := parseQuery(x.Query)
		if err != nil {
			return nil, fmt.Errorf("parsing --query: %w", err)
		}
		opts = append(opts, esarchiver.WithQuery(query))
	}
	return opts, nil
}

// parseQuery decodes a query clause keeping numbers as json.Number, so ids
// and timestamps beyond 2^53 reach the cluster unchanged.
func parseQuery(raw string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var query map[string]interface{}
	if err := dec.Decode(&query); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after the query object")
	}
	return query, nil
}

func saveAction(ctx context.Context, args arguments, saveArgs *saveArguments) error {
	cfg, err := args.config()
	if err != nil {
		return err
	}
	opts, err := saveArgs.options()
	if err != nil {
		return err
	}
	a, err := args.archiver(cfg, opts...)
	if err != nil {
		return err
	}
	dst, err := storage(cfg, saveArgs.Dir)
	if err != nil {
		return err
	}

	return args.run(ctx, "save", func(ctx context.Context) (*stats.Stats, error) {
		return a.Save(ctx, dst, saveArgs.Indices.Value())
	})
}

func saveCommand(args *arguments) *cli.Command {
	var saveArgs saveArguments

	return &cli.Command{
		Name:  "save",
		Usage: "Save indices, their definitions and documents, to an archive",
		Action: func(c *cli.Context) error {
			return saveAction(c.Context, *args, &saveArgs)
		},
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "index",
				Aliases:     []string{"i"},
				Usage:       "Index, alias or pattern to save (repeatable)",
				Required:    true,
				Destination: &saveArgs.Indices,
			},
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"d"},
				Usage:       "Archive directory or s3://bucket/prefix",
				Required:    true,
				Destination: &saveArgs.Dir,
			},
			&cli.StringFlag{
				Name:        "compression",
				Usage:       "default, speed, best or none",
				Destination: &saveArgs.Compression,
			},
			&cli.IntFlag{
				Name:        "page-size",
				Usage:       "Documents read per scroll page",
				Destination: &saveArgs.PageSize,
			},
			&cli.StringFlag{
				Name:        "query",
				Usage:       `Only save documents matching this query, e.g. '{"term":{"status":"active"}}'`,
				Destination: &saveArgs.Query,
			},
		},
	}
}
