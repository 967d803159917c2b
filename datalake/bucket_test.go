package datalake

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryBucketRoundTrip(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket("test")

	require.NoError(t, bucket.Upload(ctx, "dir/one.csv", bytes.NewReader([]byte("id\n1\n"))))

	w := bucket.NewWriter(ctx, "dir/two.csv")
	_, err := w.Write([]byte("id\n2\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := bucket.NewReader(ctx, "dir/two.csv")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "id\n2\n", string(got))

	info, err := bucket.Info(ctx, "dir/one.csv")
	require.NoError(t, err)
	require.Equal(t, int64(5), info.Size)

	_, err = bucket.Info(ctx, "dir/absent.csv")
	require.ErrorIs(t, err, ErrObjectNotFound)

	ok, err := bucket.Exists(ctx, "dir/one.csv")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = bucket.Exists(ctx, "dir/absent.csv")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryBucketList(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket("test")

	for _, key := range []string{"a/2.csv", "a/1.csv", "b/3.csv"} {
		require.NoError(t, bucket.Upload(ctx, key, bytes.NewReader([]byte("x"))))
	}

	var keys []string
	for info, err := range bucket.List(ctx, Query{Prefix: "a/"}) {
		require.NoError(t, err)
		keys = append(keys, info.Key)
	}

	require.Equal(t, []string{"a/1.csv", "a/2.csv"}, keys)
}

func TestMemoryBucketDelete(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket("test")

	require.NoError(t, bucket.Upload(ctx, "gone.csv", bytes.NewReader([]byte("x"))))
	require.NoError(t, bucket.Delete(ctx, []string{bucket.URI("gone.csv")}))

	_, err := bucket.Info(ctx, "gone.csv")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMemoryBucketCheckPermissions(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket("test")

	require.NoError(t, bucket.CheckPermissions(ctx, CheckPermissionsConfig{Prefix: "probe", Lister: true}))

	// The probe must clean up its test blob.
	for range bucket.List(ctx, Query{Prefix: "probe"}) {
		t.Fatal("expected no objects to remain under the probe prefix")
	}
}

func TestBlobWriteCloserPropagatesUploadError(t *testing.T) {
	boom := errors.New("upload exploded")

	w := newBlobWriteCloser(context.Background(), func(context.Context, string, io.Reader) error {
		return boom
	}, "key")

	_, _ = w.Write([]byte("x")) // may or may not observe the failure, Close must
	require.ErrorIs(t, w.Close(), boom)
}

func TestNewAzureBucketAuthValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		authOpt AzureOption
		wantErr string
	}{
		{
			name:    "valid account key",
			authOpt: WithAccountKey("dGVzdGtleQ=="),
		},
		{
			name:    "account key not base64",
			authOpt: WithAccountKey("not base64!!"),
			wantErr: "must be base64-encoded",
		},
		{
			name:    "no credentials",
			authOpt: func(*azureConfig) {},
			wantErr: "must specify either",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, err := NewAzureBucket(ctx, "someaccount", "lake", tt.authOpt)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "https://someaccount.blob.core.windows.net/lake/a/b.csv", bucket.URI("a/b.csv"))
		})
	}
}

func TestNewAzureBucketRejectsConflictingAuth(t *testing.T) {
	_, err := NewAzureBucket(context.Background(), "someaccount", "lake",
		WithServicePrincipal("tenant", "client", "secret"), WithAccountKey("dGVzdA=="))
	require.ErrorContains(t, err, "cannot specify both")
}
