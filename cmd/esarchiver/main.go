package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	cli "github.com/urfave/cli/v2"
)

var logger = logrus.New()

func setLogLevel(level string) {
	switch level {
	case "TRACE":
		logger.SetLevel(logrus.TraceLevel)
	case "DEBUG":
		logger.SetLevel(logrus.DebugLevel)
	case "INFO":
		logger.SetLevel(logrus.InfoLevel)
	case "WARN":
		logger.SetLevel(logrus.WarnLevel)
	case "ERROR":
		logger.SetLevel(logrus.ErrorLevel)
	}
}

func main() {
	var args arguments

	app := &cli.App{
		Name:  "esarchiver",
		Usage: "Save Elasticsearch indices to archives and restore them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "YAML configuration file",
				EnvVars:     []string{"ESARCHIVER_CONFIG"},
				Destination: &args.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "url",
				Aliases:     []string{"u"},
				Usage:       "Comma separated cluster addresses",
				EnvVars:     []string{"ELASTICSEARCH_URL"},
				Destination: &args.URL,
			},
			&cli.StringFlag{
				Name:        "flavor",
				Usage:       "Cluster flavor: elasticsearch or opensearch",
				Destination: &args.Flavor,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "TRACE, DEBUG, INFO, WARN or ERROR",
				Value:       "INFO",
				Destination: &args.LogLevel,
			},
			&cli.StringFlag{
				Name:        "metrics-textfile",
				Usage:       "Write run statistics to this file in Prometheus text format",
				Destination: &args.MetricsTextfile,
			},
		},
		Before: func(c *cli.Context) error {
			setLogLevel(args.LogLevel)
			return nil
		},
		Commands: []*cli.Command{
			saveCommand(&args),
			loadCommand(&args),
			unloadCommand(&args),
			importFixturesCommand(&args),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.RunContext(ctx, os.Args)
	if err != nil {
		logger.WithError(err).Fatal("Abort")
	}
}
