package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	esarchiver "github.com/kurakura967/go-elasticsearch-archiver"
	"github.com/kurakura967/go-elasticsearch-archiver/archive"
	"github.com/kurakura967/go-elasticsearch-archiver/objstore"
	"github.com/kurakura967/go-elasticsearch-archiver/stats"
)

const defaultURL = "http://localhost:9200"

type arguments struct {
	ConfigPath      string
	URL             string
	Flavor          string
	LogLevel        string
	MetricsTextfile string
}

// config reads the configuration file, if any, and applies the command
// line overrides.
func (x arguments) config() (*esarchiver.Config, error) {
	cfg := &esarchiver.Config{}
	if x.ConfigPath != "" {
		var err error
		if cfg, err = esarchiver.LoadConfig(x.ConfigPath); err != nil {
			return nil, err
		}
	}

	if x.URL != "" {
		cfg.Elasticsearch.Addresses = strings.Split(x.URL, ",")
	}
	if len(cfg.Elasticsearch.Addresses) == 0 {
		cfg.Elasticsearch.Addresses = []string{defaultURL}
	}
	if x.Flavor != "" {
		cfg.Elasticsearch.Flavor = x.Flavor
	}
	return cfg, nil
}

// archiver builds an Archiver from cfg with extra options applied last.
func (x arguments) archiver(cfg *esarchiver.Config, extra ...esarchiver.Option) (*esarchiver.Archiver, error) {
	st, err := cfg.Elasticsearch.NewStore()
	if err != nil {
		return nil, err
	}

	opts := append(cfg.Options(), esarchiver.WithLogger(logger))
	opts = append(opts, extra...)
	return esarchiver.New(st, opts...)
}

// storage opens an archive location: a local directory or an
// s3://bucket/prefix URL.
func storage(cfg *esarchiver.Config, location string) (archive.Storage, error) {
	if location == "" {
		return nil, fmt.Errorf("archive location is required")
	}
	if !objstore.IsURL(location) {
		return archive.LocalDir(location), nil
	}

	bucket, prefix, err := objstore.ParseURL(location)
	if err != nil {
		return nil, err
	}
	client, err := cfg.S3.Client()
	if err != nil {
		return nil, err
	}
	return objstore.New(client, bucket, prefix), nil
}

// report writes the run statistics to the metrics textfile when one is
// configured.
func (x arguments) report(s *stats.Stats) {
	if x.MetricsTextfile == "" || s == nil {
		return
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(s); err != nil {
		logger.WithError(err).Warn("Fail to register statistics")
		return
	}
	if err := prometheus.WriteToTextfile(x.MetricsTextfile, registry); err != nil {
		logger.WithError(err).WithField("path", x.MetricsTextfile).Warn("Fail to write metrics textfile")
	}
}

// run executes op and reports its statistics whether or not it failed.
func (x arguments) run(ctx context.Context, action string, op func(context.Context) (*stats.Stats, error)) error {
	s, err := op(ctx)
	x.report(s)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{"action": action}).Info("Done")
	return nil
}
