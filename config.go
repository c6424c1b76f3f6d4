package esarchiver

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/opensearch-project/opensearch-go/v2"
	"gopkg.in/yaml.v3"

	"github.com/kurakura967/go-elasticsearch-archiver/archive"
	"github.com/kurakura967/go-elasticsearch-archiver/indices"
	"github.com/kurakura967/go-elasticsearch-archiver/internal/retry"
	"github.com/kurakura967/go-elasticsearch-archiver/objstore"
	"github.com/kurakura967/go-elasticsearch-archiver/store"
)

// Cluster flavors.
const (
	FlavorElasticsearch = "elasticsearch"
	FlavorOpenSearch    = "opensearch"
)

// Config is the YAML configuration of the esarchiver command.
type Config struct {
	Elasticsearch ClusterConfig   `yaml:"elasticsearch"`
	Archive       ArchiveConfig   `yaml:"archive"`
	Save          SaveConfig      `yaml:"save"`
	Load          RestoreConfig   `yaml:"load"`
	SystemIndex   indices.Renamer `yaml:"system_index"`
	S3            objstore.Config `yaml:"s3"`
}

// ClusterConfig locates the cluster.
type ClusterConfig struct {
	// Flavor is "elasticsearch" (default) or "opensearch".
	Flavor    string   `yaml:"flavor"`
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	APIKey    string   `yaml:"api_key"`
	// Insecure disables TLS certificate verification.
	Insecure bool `yaml:"insecure"`
}

type ArchiveConfig struct {
	Compression archive.CompressionLevel `yaml:"compression"`
}

type SaveConfig struct {
	PageSize      int                    `yaml:"page_size"`
	ScrollTimeout time.Duration          `yaml:"scroll_timeout"`
	Query         map[string]interface{} `yaml:"query"`
}

type RestoreConfig struct {
	BatchDocs    int          `yaml:"batch_docs"`
	BatchBytes   int          `yaml:"batch_bytes"`
	Retry        retry.Policy `yaml:"retry"`
	CreateRetry  retry.Policy `yaml:"create_retry"`
	DeleteRetry  retry.Policy `yaml:"delete_retry"`
	SkipExisting bool         `yaml:"skip_existing"`
	UseCreate    bool         `yaml:"use_create"`
	NoRefresh    bool         `yaml:"no_refresh"`
}

// LoadConfig reads a YAML configuration file. Unknown keys are an error.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Elasticsearch.Flavor) {
	case "", FlavorElasticsearch, FlavorOpenSearch:
	default:
		return fmt.Errorf("elasticsearch.flavor: unknown flavor %q", c.Elasticsearch.Flavor)
	}
	if c.Save.PageSize < 0 {
		return errors.New("save.page_size must not be negative")
	}
	if c.Load.BatchDocs < 0 || c.Load.BatchBytes < 0 {
		return errors.New("load batch limits must not be negative")
	}
	return nil
}

// Options turns the configuration into Archiver options. Unset values keep
// the Archiver defaults.
func (c *Config) Options() []Option {
	opts := []Option{
		WithCompression(c.Archive.Compression),
		WithBatchLimits(c.Load.BatchDocs, c.Load.BatchBytes),
		WithBulkRetry(c.Load.Retry),
		WithIndexRetries(c.Load.CreateRetry, c.Load.DeleteRetry),
	}
	if !c.SystemIndex.IsZero() {
		opts = append(opts, WithRenamer(c.SystemIndex))
	}
	if c.Save.PageSize > 0 {
		opts = append(opts, WithPageSize(c.Save.PageSize))
	}
	if c.Save.ScrollTimeout > 0 {
		opts = append(opts, WithScrollTimeout(c.Save.ScrollTimeout))
	}
	if c.Save.Query != nil {
		opts = append(opts, WithQuery(c.Save.Query))
	}
	if c.Load.SkipExisting {
		opts = append(opts, SkipExisting())
	}
	if c.Load.UseCreate {
		opts = append(opts, UseCreate())
	}
	if c.Load.NoRefresh {
		opts = append(opts, WithoutRefresh())
	}
	return opts
}

func (c ClusterConfig) transport() http.RoundTripper {
	if !c.Insecure {
		return nil
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return t
}

// NewStore creates a client for the cluster and wraps it in a store.
func (c ClusterConfig) NewStore() (*store.Elasticsearch, error) {
	switch strings.ToLower(c.Flavor) {
	case "", FlavorElasticsearch:
		client, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: c.Addresses,
			Username:  c.Username,
			Password:  c.Password,
			APIKey:    c.APIKey,
			Transport: c.transport(),
		})
		if err != nil {
			return nil, fmt.Errorf("creating elasticsearch client: %w", err)
		}
		return store.NewElasticsearch(client), nil

	case FlavorOpenSearch:
		if c.APIKey != "" {
			return nil, errors.New("api_key is not supported for opensearch")
		}
		client, err := opensearch.NewClient(opensearch.Config{
			Addresses: c.Addresses,
			Username:  c.Username,
			Password:  c.Password,
			Transport: c.transport(),
		})
		if err != nil {
			return nil, fmt.Errorf("creating opensearch client: %w", err)
		}
		return store.NewElasticsearch(client), nil

	default:
		return nil, fmt.Errorf("unknown flavor %q", c.Flavor)
	}
}
