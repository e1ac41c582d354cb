package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/maxsim/blobstore"
)

// currentName is the pointer blob that names the live manifest.
const currentName = "CURRENT"

// ErrConcurrentModification is returned when another writer committed a
// manifest version first.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// Compile-time check that DDBCommitStore implements the blobstore interface.
var _ blobstore.Store = (*DDBCommitStore)(nil)

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBCommitStore layers DynamoDB on top of an object store to make the
// CURRENT manifest pointer a compare-and-swap. Object stores overwrite
// blindly, so two concurrent publishers could otherwise both believe they
// won; the conditional write makes exactly one commit per version succeed.
//
// The commit log table uses base_uri as the partition key and version
// (a number) as the sort key:
//
//	aws dynamodb create-table \
//	  --table-name maxsim-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
//
// All blobs except CURRENT pass through to the wrapped store unchanged.
type DDBCommitStore struct {
	store     blobstore.Store
	ddbClient DDBClient
	tableName string
	baseURI   string // partition key, e.g. "s3://bucket/prefix"
}

// NewDDBCommitStore wraps store with a DynamoDB commit log. The baseURI
// identifies this index in the shared table, conventionally
// "s3://bucket/prefix".
func NewDDBCommitStore(store blobstore.Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		store:     store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open returns a read handle. For CURRENT the content is resolved from the
// latest committed version in DynamoDB rather than from the object store.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name == currentName {
		version, manifestPath, err := s.getLatestVersion(ctx)
		if err != nil {
			return nil, err
		}

		if version == 0 {
			return nil, blobstore.ErrNotFound
		}

		return &virtualCurrentBlob{content: []byte(manifestPath)}, nil
	}

	return s.store.Open(ctx, name)
}

// Put writes a blob. Writing CURRENT commits the named manifest as the next
// version; it fails with ErrConcurrentModification if another writer got
// there first.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == currentName {
		return s.commitVersion(ctx, string(data))
	}

	return s.store.Put(ctx, name, data)
}

// Create passes through to the wrapped store.
func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return s.store.Create(ctx, name)
}

// Delete passes through to the wrapped store.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.store.Delete(ctx, name)
}

// List passes through to the wrapped store.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.store.List(ctx, prefix)
}

// Exists reports presence. CURRENT exists once a version has been committed.
func (s *DDBCommitStore) Exists(ctx context.Context, name string) (bool, error) {
	if name == currentName {
		version, _, err := s.getLatestVersion(ctx)
		if err != nil {
			return false, err
		}

		return version > 0, nil
	}

	return s.store.Exists(ctx, name)
}

// getLatestVersion returns the highest committed version and its manifest
// path, or version 0 when nothing has been committed yet.
func (s *DDBCommitStore) getLatestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commit log: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]

	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("commit log item missing version attribute")
	}

	pathAttr, ok := item["manifest_path"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("commit log item missing manifest_path attribute")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse version: %w", err)
	}

	return version, pathAttr.Value, nil
}

// commitVersion writes version latest+1 with a conditional put, so exactly
// one of any set of racing writers succeeds.
func (s *DDBCommitStore) commitVersion(ctx context.Context, manifestPath string) error {
	currentVersion, _, err := s.getLatestVersion(ctx)
	if err != nil {
		return err
	}

	newVersion := currentVersion + 1

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: s.baseURI},
			"version":       &types.AttributeValueMemberN{Value: strconv.FormatUint(newVersion, 10)},
			"manifest_path": &types.AttributeValueMemberS{Value: manifestPath},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}

		return fmt.Errorf("commit version %d: %w", newVersion, err)
	}

	return nil
}

// virtualCurrentBlob serves the CURRENT pointer content from memory.
type virtualCurrentBlob struct {
	content []byte
}

func (b *virtualCurrentBlob) Close() error {
	return nil
}

func (b *virtualCurrentBlob) Size() int64 {
	return int64(len(b.content))
}

func (b *virtualCurrentBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if off >= int64(len(b.content)) {
		return 0, io.EOF
	}

	n := copy(p, b.content[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

func (b *virtualCurrentBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= int64(len(b.content)) {
		return nil, io.EOF
	}

	end := off + length
	if end > int64(len(b.content)) {
		end = int64(len(b.content))
	}

	return io.NopCloser(bytes.NewReader(b.content[off:end])), nil
}
