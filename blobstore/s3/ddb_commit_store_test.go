package s3

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/maxsim/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDDBClient is an in-memory DynamoDB standin with conditional writes.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func (m *mockDDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	baseURI := params.Item["base_uri"].(*types.AttributeValueMemberS).Value
	version := params.Item["version"].(*types.AttributeValueMemberN).Value
	key := baseURI + ":" + version

	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(version)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	m.items[key] = params.Item

	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	baseURI := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue

	for _, item := range m.items {
		if item["base_uri"].(*types.AttributeValueMemberS).Value == baseURI {
			items = append(items, item)
		}
	}

	// Numeric sort key, descending to mirror ScanIndexForward=false.
	sort.Slice(items, func(i, j int) bool {
		vi, _ := strconv.ParseUint(items[i]["version"].(*types.AttributeValueMemberN).Value, 10, 64)
		vj, _ := strconv.ParseUint(items[j]["version"].(*types.AttributeValueMemberN).Value, 10, 64)

		return vi > vj
	})

	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}

	return &dynamodb.QueryOutput{Items: items}, nil
}

func newTestDDBCommitStore(ddb *mockDDBClient, baseURI string) *DDBCommitStore {
	return NewDDBCommitStore(blobstore.NewMemoryStore(), ddb, "maxsim-commits", baseURI)
}

func readCurrent(t *testing.T, store *DDBCommitStore) string {
	t.Helper()

	ctx := context.Background()

	blob, err := store.Open(ctx, "CURRENT")
	require.NoError(t, err)

	defer blob.Close()

	buf := make([]byte, blob.Size())
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)

	return string(buf)
}

func TestDDBCommitStore_FirstCommit(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	store := newTestDDBCommitStore(ddb, "s3://test-bucket/test/")

	err := store.Put(ctx, "CURRENT", []byte("manifest-000001.json"))
	require.NoError(t, err)

	assert.Equal(t, "manifest-000001.json", readCurrent(t, store))
}

func TestDDBCommitStore_MultipleCommits(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	store := newTestDDBCommitStore(ddb, "s3://test-bucket/test/")

	// Twelve commits also exercise the numeric ordering of versions 10+.
	for i := 1; i <= 12; i++ {
		err := store.Put(ctx, "CURRENT", []byte(fmt.Sprintf("manifest-%06d.json", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, "manifest-000012.json", readCurrent(t, store))
}

func TestDDBCommitStore_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	store := newTestDDBCommitStore(ddb, "s3://test-bucket/test/")

	err := store.Put(ctx, "CURRENT", []byte("manifest-000001.json"))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			err := store.Put(ctx, "CURRENT", []byte(fmt.Sprintf("manifest-%06d.json", id+2)))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, ErrConcurrentModification):
				conflicts++
			}
		}(i)
	}

	wg.Wait()

	assert.Greater(t, successes, 0, "at least one writer should succeed")
	t.Logf("successes: %d, conflicts: %d", successes, conflicts)
}

func TestDDBCommitStore_NotFoundBeforeCommit(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	store := newTestDDBCommitStore(ddb, "s3://test-bucket/test/")

	_, err := store.Open(ctx, "CURRENT")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	ok, err := store.Exists(ctx, "CURRENT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDDBCommitStore_ExistsAfterCommit(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	store := newTestDDBCommitStore(ddb, "s3://test-bucket/test/")

	require.NoError(t, store.Put(ctx, "CURRENT", []byte("manifest-000001.json")))

	ok, err := store.Exists(ctx, "CURRENT")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDDBCommitStore_IsolatedNamespaces(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()

	store1 := newTestDDBCommitStore(ddb, "s3://bucket-a/path/")
	store2 := newTestDDBCommitStore(ddb, "s3://bucket-b/path/")

	require.NoError(t, store1.Put(ctx, "CURRENT", []byte("manifest-a.json")))
	require.NoError(t, store2.Put(ctx, "CURRENT", []byte("manifest-b.json")))

	assert.Equal(t, "manifest-a.json", readCurrent(t, store1))
	assert.Equal(t, "manifest-b.json", readCurrent(t, store2))
}

func TestDDBCommitStore_PassthroughBlobs(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	store := newTestDDBCommitStore(ddb, "s3://test-bucket/test/")

	// Non-CURRENT blobs never touch DynamoDB.
	require.NoError(t, store.Put(ctx, "manifest-000001.json", []byte(`{"num_chunks":0}`)))

	data, err := blobstore.ReadAll(ctx, store, "manifest-000001.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"num_chunks":0}`, string(data))
	assert.Empty(t, ddb.items)
}
