package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/maxsim/blobstore"
)

// Compile-time check that Store implements the blobstore interface.
var _ blobstore.Store = (*Store)(nil)

// Options configures a Store.
type Options struct {
	// Prefix is prepended to every blob name, e.g. "indexes/msmarco".
	Prefix string

	// Region overrides the AWS region when New loads the default config.
	Region string

	// Upload configures multipart uploads for Create and Put.
	Upload UploadConfig
}

// WithPrefix scopes all blob names under the given key prefix.
func WithPrefix(prefix string) func(*Options) {
	return func(o *Options) {
		o.Prefix = prefix
	}
}

// WithRegion sets the AWS region used by New.
func WithRegion(region string) func(*Options) {
	return func(o *Options) {
		o.Region = region
	}
}

// WithUploadConfig overrides the multipart upload settings.
func WithUploadConfig(cfg UploadConfig) func(*Options) {
	return func(o *Options) {
		o.Upload = cfg
	}
}

// Store reads and writes blobs as objects in an S3 bucket. Reads use ranged
// GETs, so large index files can be consumed without downloading them whole.
type Store struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	upload   UploadConfig
}

// New connects to S3 using the default AWS credential chain.
func New(ctx context.Context, bucket string, optFns ...func(*Options)) (*Store, error) {
	opts := Options{
		Upload: DefaultUploadConfig(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newStore(s3.NewFromConfig(cfg), bucket, opts), nil
}

// NewStore wraps an existing S3 client.
func NewStore(client Client, bucket string, optFns ...func(*Options)) *Store {
	opts := Options{
		Upload: DefaultUploadConfig(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return newStore(client, bucket, opts)
}

func newStore(client Client, bucket string, opts Options) *Store {
	return &Store{
		client:   client,
		uploader: newUploader(client, opts.Upload),
		bucket:   bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		upload:   opts.Upload,
	}
}

// key maps a blob name to its object key under the store prefix.
func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}

	return s.prefix + "/" + name
}

// Open returns a read handle for the named object.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	return openBlob(ctx, s.client, s.bucket, s.key(name))
}

// Create starts a streaming multipart upload. The object becomes visible
// when the returned blob is closed.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return newWritableBlob(ctx, s.uploader, s.bucket, s.key(name), s.upload.EnableChecksum), nil
}

// Put uploads data as a single object, with an end-to-end CRC32C checksum
// when enabled.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	return putObject(ctx, s.client, s.bucket, s.key(name), data, s.upload.EnableChecksum)
}

// Delete removes the named object. Deleting a missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})

	return err
}

// List returns the names of all objects under prefix, relative to the store
// prefix, in lexical order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	return listObjects(ctx, s.client, s.bucket, s.key(prefix), s.prefix)
}

// Exists reports whether the named object is present.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}
