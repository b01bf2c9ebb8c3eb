package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/pithecene-io/catalogsync/frame"
	"github.com/pithecene-io/catalogsync/types"
)

// DefaultDataset is the Lode dataset id exports are written to.
const DefaultDataset = "catalogsync"

// Sink receives the pages of one export in page order.
type Sink interface {
	// WritePage accepts the products of one page.
	WritePage(ctx context.Context, products []types.Product) error
	// Finish completes the export. total is the backend's total for the query.
	Finish(ctx context.Context, total int) error
}

// LodeSink writes offer rows to a Lode dataset, Hive-partitioned by
// day and location_id. Rows are buffered and committed as a single
// snapshot by Finish.
type LodeSink struct {
	dataset lode.Dataset
	name    string
	meta    Meta

	mu   sync.Mutex
	rows []any
}

// NewDataset opens the export dataset over factory.
// Use lode.NewMemoryFactory() for testing.
func NewDataset(name string, factory lode.StoreFactory) (lode.Dataset, error) {
	if name == "" {
		name = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(name),
		factory,
		lode.WithHiveLayout("day", "location_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrapStorageError(err, "init", name)
	}
	return ds, nil
}

// NewLodeSink creates a sink over a store factory.
func NewLodeSink(name string, factory lode.StoreFactory, meta Meta) (*LodeSink, error) {
	ds, err := NewDataset(name, factory)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = DefaultDataset
	}
	return &LodeSink{dataset: ds, name: name, meta: meta}, nil
}

// NewFSSink creates a sink writing under root on the local filesystem.
func NewFSSink(name, root string, meta Meta) (*LodeSink, error) {
	return NewLodeSink(name, lode.NewFSFactory(root), meta)
}

// WritePage implements Sink.
func (s *LodeSink) WritePage(_ context.Context, products []types.Product) error {
	records := Flatten(products, s.meta)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.rows = append(s.rows, toRecordMap(r))
	}
	return nil
}

// Finish implements Sink. An export with no offers writes nothing.
func (s *LodeSink) Finish(ctx context.Context, _ int) error {
	s.mu.Lock()
	rows := s.rows
	s.rows = nil
	s.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	_, err := s.dataset.Write(ctx, rows, lode.Metadata{})
	return wrapStorageError(err, "write", s.name)
}

// Dataset returns the underlying dataset.
func (s *LodeSink) Dataset() lode.Dataset { return s.dataset }

// ReadLatest returns the rows of the most recent snapshot in ds.
func ReadLatest(ctx context.Context, ds lode.Dataset) ([]map[string]any, error) {
	latest, err := ds.Latest(ctx)
	if err != nil {
		return nil, wrapStorageError(err, "read", string(ds.ID()))
	}
	data, err := ds.Read(ctx, latest.ID)
	if err != nil {
		return nil, wrapStorageError(err, "read", fmt.Sprintf("%s/snapshot/%s", ds.ID(), latest.ID))
	}

	rows := make([]map[string]any, 0, len(data))
	for _, item := range data {
		if record, ok := item.(map[string]any); ok {
			rows = append(rows, record)
		}
	}
	return rows, nil
}

// FrameSink streams products as msgpack frames.
type FrameSink struct {
	enc   *frame.Encoder
	query string
}

// NewFrameSink creates a sink writing a frame stream to w.
func NewFrameSink(w io.Writer, query string) *FrameSink {
	return &FrameSink{enc: frame.NewEncoder(w), query: query}
}

// WritePage implements Sink.
func (s *FrameSink) WritePage(_ context.Context, products []types.Product) error {
	for _, p := range products {
		if err := s.enc.WriteProduct(p); err != nil {
			return err
		}
	}
	return s.enc.Flush()
}

// Finish implements Sink by writing the trailer frame.
func (s *FrameSink) Finish(_ context.Context, total int) error {
	return s.enc.WriteTrailer(total, s.query)
}

// S3Config holds configuration for the S3 storage backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path parses a path in format "bucket/prefix" or "bucket".
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, prefix
}

// S3Factory builds a Lode store factory over S3.
// Uses the AWS SDK default credential chain (env vars, shared config, IAM role).
func S3Factory(ctx context.Context, cfg S3Config) (lode.StoreFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, wrapStorageError(fmt.Errorf("failed to load AWS config: %w", err), "init", cfg.Bucket)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: cfg.Bucket,
			Prefix: cfg.Prefix,
		})
	}, nil
}

// NewS3Sink creates a sink writing to S3.
func NewS3Sink(ctx context.Context, name string, cfg S3Config, meta Meta) (*LodeSink, error) {
	factory, err := S3Factory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewLodeSink(name, factory, meta)
}

var (
	_ Sink = (*LodeSink)(nil)
	_ Sink = (*FrameSink)(nil)
)
