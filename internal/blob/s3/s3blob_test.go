package s3blob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/ledger"
)

type mockPutter struct{ mock.Mock }

func (m *mockPutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	args := m.Called(aws.ToString(in.Key), string(body), aws.ToString(in.ContentType))
	return &s3.PutObjectOutput{}, args.Error(0)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchivePath(t *testing.T) {
	at := time.Date(2026, 2, 7, 9, 30, 5, 0, time.FixedZone("HKT", 8*3600))
	assert.Equal(t, "ledger/2026/02/07/ledger-20260207T013005Z.jsonl", ArchivePath(at))
}

func TestObjectKeyPrefix(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"", "ledger/a.jsonl", "ledger/a.jsonl"},
		{"bots/node1", "ledger/a.jsonl", "bots/node1/ledger/a.jsonl"},
		{"bots/node1", "/ledger/a.jsonl", "bots/node1/ledger/a.jsonl"},
	}
	for _, tc := range tests {
		c := &Client{prefix: tc.prefix}
		assert.Equal(t, tc.want, c.objectKey(tc.path))
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
}

func TestArchive(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()
	for i, id := range []string{"o-1", "o-2"} {
		require.NoError(t, store.Append(ctx, domain.LedgerEntry{
			Seq: int64(i + 1), OrderID: id, Status: domain.ExecConfirmed,
			Volume: decimal.NewFromInt(1), Profit: decimal.Zero, Loss: decimal.Zero, GasCost: decimal.Zero,
		}))
	}

	api := &mockPutter{}
	api.On("PutObject", "arch/ledger/2026/01/02/ledger-20260102T030405Z.jsonl",
		mock.MatchedBy(func(body string) bool {
			lines := strings.Split(strings.TrimSpace(body), "\n")
			return len(lines) == 2 && strings.Contains(lines[0], `"order_id":"o-1"`)
		}),
		"application/x-ndjson",
	).Return(nil).Once()

	writer := &Writer{api: api, bucket: "b", key: (&Client{prefix: "arch"}).objectKey}
	a := NewLedgerArchiver(writer, store, discard())

	path, n, err := a.Archive(ctx, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "ledger/2026/01/02/ledger-20260102T030405Z.jsonl", path)
	assert.Equal(t, 2, n)
	api.AssertExpectations(t)
}

func TestArchive_EmptyLedgerUploadsNothing(t *testing.T) {
	api := &mockPutter{}
	a := NewLedgerArchiver(&Writer{api: api, bucket: "b", key: func(p string) string { return p }}, ledger.NewMemoryStore(), discard())

	path, n, err := a.Archive(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, n)
	api.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything)
}

func TestArchive_UploadFailure(t *testing.T) {
	store := ledger.NewMemoryStore()
	require.NoError(t, store.Append(context.Background(), domain.LedgerEntry{Seq: 1, OrderID: "o-1"}))

	api := &mockPutter{}
	api.On("PutObject", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("access denied"))
	a := NewLedgerArchiver(&Writer{api: api, bucket: "b", key: func(p string) string { return p }}, store, discard())

	_, _, err := a.Archive(context.Background(), time.Now())
	assert.ErrorContains(t, err, "access denied")
}
