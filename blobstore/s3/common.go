package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/maxsim/blobstore"
)

// Client captures the S3 operations the store uses. *s3.Client satisfies it;
// tests substitute mocks.
type Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient

	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// blob is a read-only handle backed by ranged GetObject calls.
type blob struct {
	client Client
	bucket string
	key    string
	size   int64
}

func (b *blob) Close() error {
	return nil
}

func (b *blob) Size() int64 {
	return b.size
}

// ReadAt reads len(p) bytes starting at offset off via a ranged GET.
func (b *blob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if off >= b.size {
		return 0, io.EOF
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	end := off + int64(len(p)) - 1
	if end >= b.size {
		end = b.size - 1
	}

	rangeHeader := fmt.Sprintf("bytes=%d-%d", off, end)

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.ReadFull(resp.Body, p)
	if err == nil {
		return n, nil
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		if off+int64(n) >= b.size {
			// Requested range was clamped at the end of the object.
			return n, io.EOF
		}

		return n, io.ErrUnexpectedEOF
	}

	return n, err
}

// ReadRange returns the response body of a ranged GET over [off, off+length).
func (b *blob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.size {
		return nil, io.EOF
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	end := off + length - 1
	if end >= b.size {
		end = b.size - 1
	}

	rangeHeader := fmt.Sprintf("bytes=%d-%d", off, end)

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// openBlob resolves the object size with a HeadObject probe.
func openBlob(ctx context.Context, client Client, bucket, key string) (*blob, error) {
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}

		return nil, err
	}

	return &blob{
		client: client,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	var nsk *types.NoSuchKey

	return errors.As(err, &nsk)
}

// listObjects pages through ListObjectsV2 and returns names relative to
// rootPrefix, sorted.
func listObjects(ctx context.Context, client Client, bucket, fullPrefix, rootPrefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Contents {
			relPath := aws.ToString(obj.Key)
			if rootPrefix != "" {
				relPath = strings.TrimPrefix(relPath, rootPrefix+"/")
			}

			keys = append(keys, relPath)
		}
	}

	sort.Strings(keys)

	return keys, nil
}

// writableBlob streams writes into a multipart upload through an io.Pipe.
// The upload is finalized by Close; the blob is invisible to readers until
// the upload completes.
type writableBlob struct {
	pw       *io.PipeWriter
	done     chan error
	closed   atomic.Bool
	closeMu  sync.Mutex
	closeErr error
}

func newWritableBlob(ctx context.Context, uploader *manager.Uploader, bucket, key string, enableChecksum bool) *writableBlob {
	pr, pw := io.Pipe()

	b := &writableBlob{
		pw:   pw,
		done: make(chan error, 1),
	}

	go func() {
		input := &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		}

		if enableChecksum {
			input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
		}

		_, err := uploader.Upload(ctx, input)

		// Unblock any in-flight Write before signalling completion.
		_ = pr.CloseWithError(err)
		b.done <- err
	}()

	return b
}

func (b *writableBlob) Write(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, io.ErrClosedPipe
	}

	return b.pw.Write(p)
}

func (b *writableBlob) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return b.closeErr
	}

	if err := b.pw.Close(); err != nil {
		b.closeErr = err

		return err
	}

	b.closeErr = <-b.done

	return b.closeErr
}

// Abort cancels an in-progress upload. The uploader removes any uploaded
// parts when the pipe fails.
func (b *writableBlob) Abort() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	return b.pw.CloseWithError(context.Canceled)
}

// Sync is a no-op for S3 uploads.
// The upload is only finalized when Close() is called.
func (b *writableBlob) Sync() error {
	return nil
}
