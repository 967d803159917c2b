// Package datalake provides a high-level interface for working with the
// object store backing the analytics lake, with an Azure implementation for
// production and an in-memory implementation for tests.
package datalake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrObjectNotFound is returned by Info for keys which do not exist. Use
// errors.Is to test for it.
var ErrObjectNotFound = errors.New("object not found")

// Bucket is a common interface for working with blob storage. Conceptually,
// a Bucket is aligned with an Azure Blob storage "container", which is what
// a Data Lake Gen2 filesystem is underneath.
type Bucket interface {
	// NewReader returns a stream of bytes for reading from the given key.
	// The caller is responsible for closing the returned ReadCloser.
	NewReader(ctx context.Context, key string) (io.ReadCloser, error)

	// NewWriter returns a WriteCloser to write an object to the bucket. The
	// object will be readable after Close returns; a write that fails before
	// Close leaves no object behind.
	NewWriter(ctx context.Context, key string) io.WriteCloser

	// Upload uploads an object as a stream.
	Upload(ctx context.Context, key string, r io.Reader) error

	// Info returns metadata for a single key, or an error wrapping
	// ErrObjectNotFound if the key does not exist.
	Info(ctx context.Context, key string) (ObjectInfo, error)

	// Exists reports whether an object is stored at the given key.
	Exists(ctx context.Context, key string) (bool, error)

	// URI creates an identifier from a file key, usually by prepending the
	// URI scheme and bucket name.
	URI(key string) string

	// Delete deletes the objects per the list of URIs.
	Delete(ctx context.Context, uris []string) error

	// CheckPermissions performs test operations to validate the bucket's
	// access per `cfg`.
	CheckPermissions(ctx context.Context, cfg CheckPermissionsConfig) error

	// List lists the items in the bucket.
	List(ctx context.Context, query Query) iter.Seq2[ObjectInfo, error]
}

// Query of objects to be returned by List.
type Query struct {
	// Prefix constrains the listing to paths which begin with the prefix.
	Prefix string
}

// ObjectInfo is returned by List and Info.
type ObjectInfo struct {
	// Key is the path of the object. It does not include the bucket name.
	Key string

	// Size is the stored size of the object in bytes.
	Size int64
}

// CheckPermissionsConfig specifies which operations will be validated in
// CheckPermissions. Writing, reading back, and deleting a test blob is
// always validated; listing only when Lister is set.
type CheckPermissionsConfig struct {
	Prefix string // prefix under which the test blob is written and listed
	Lister bool   // also check that the list operation can succeed
}

type uploadFn func(context.Context, string, io.Reader) error

// blobWriteCloser adapts a synchronous uploadFn into an io.WriteCloser.
type blobWriteCloser struct {
	w     *io.PipeWriter
	errCh chan (error)
}

func newBlobWriteCloser(ctx context.Context, u uploadFn, key string) *blobWriteCloser {
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		err := u(ctx, key, pr)
		if err != nil {
			pr.CloseWithError(err)
		}
		errCh <- err
	}()

	return &blobWriteCloser{
		w:     pw,
		errCh: errCh,
	}
}

func (w *blobWriteCloser) Close() error {
	if err := w.w.Close(); err != nil {
		return err
	}

	return <-w.errCh
}

func (w *blobWriteCloser) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// Sanitized versions of user-facing errors for the two common cases of the
// wrong container input, or incorrect / insufficient authorization to do
// various actions on that container.
var (
	errNoSuchContainer = errors.New("no such container")
	errUnauthorized    = errors.New("unauthorized")
)

func checkPermissions(
	ctx context.Context,
	bucket Bucket,
	cfg CheckPermissionsConfig,
	// handleErr adapts provider-specific errors into a more user-friendly
	// error, and returns its input unchanged when it has nothing better.
	handleErr func(err error) error,
) error {
	adaptErr := func(err error) error {
		adapted := handleErr(err)
		if adapted != err {
			// Log the original error message, since it can sometimes contain
			// useful (although potentially confusing) information.
			log.WithField("err", err).Error("bucket permissions check failed")
		}
		return adapted
	}

	prefixURI := bucket.URI(cfg.Prefix)

	if cfg.Lister {
		for _, err := range bucket.List(ctx, Query{Prefix: cfg.Prefix}) {
			if err != nil {
				return fmt.Errorf("unable to list %q: %w", prefixURI, adaptErr(err))
			}
			break
		}
	}

	testData := []byte("test")
	testKey := path.Join(cfg.Prefix, uuid.NewString())
	testWriter := bucket.NewWriter(ctx, testKey)
	got := make([]byte, len(testData))

	if n, err := testWriter.Write(testData); err != nil {
		return fmt.Errorf("unable to write to %q: %w", prefixURI, adaptErr(err))
	} else if n != len(testData) {
		return fmt.Errorf("short write: %d vs %d", n, len(testData))
	} else if err := testWriter.Close(); err != nil {
		return fmt.Errorf("unable to write to %q: %w", prefixURI, adaptErr(err))
	} else if reader, err := bucket.NewReader(ctx, testKey); err != nil {
		return fmt.Errorf("unable to read from %q: %w", prefixURI, adaptErr(err))
	} else if n, err := reader.Read(got); err != nil && err != io.EOF {
		return fmt.Errorf("unable to read from %q: %w", prefixURI, adaptErr(err))
	} else if n != len(testData) {
		return fmt.Errorf("short read: %d vs %d", n, len(testData))
	} else if !bytes.Equal(testData, got) {
		return fmt.Errorf("io error: read bytes do not match written bytes")
	} else if err := reader.Close(); err != nil {
		return fmt.Errorf("unexpected error when closing reader: %w", err)
	} else if err := bucket.Delete(ctx, []string{bucket.URI(testKey)}); err != nil {
		return fmt.Errorf("unable to delete from %q: %w", prefixURI, adaptErr(err))
	}

	return nil
}
