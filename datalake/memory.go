package datalake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"path"
	"slices"
	"strings"
	"sync"
)

var _ Bucket = (*MemoryBucket)(nil)

// MemoryBucket is an in-memory Bucket used by tests. It is safe for
// concurrent use.
type MemoryBucket struct {
	name string

	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{
		name:    name,
		objects: make(map[string][]byte),
	}
}

func (b *MemoryBucket) NewReader(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, ErrObjectNotFound)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *MemoryBucket) NewWriter(ctx context.Context, key string) io.WriteCloser {
	return newBlobWriteCloser(ctx, b.Upload, key)
}

func (b *MemoryBucket) Upload(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data

	return nil
}

func (b *MemoryBucket) Info(ctx context.Context, key string) (ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%q: %w", key, ErrObjectNotFound)
	}

	return ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (b *MemoryBucket) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.objects[key]

	return ok, nil
}

func (b *MemoryBucket) URI(key string) string {
	return "mem://" + path.Join(b.name, key)
}

func (b *MemoryBucket) Delete(ctx context.Context, uris []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, uri := range uris {
		delete(b.objects, strings.TrimPrefix(uri, "mem://"+b.name+"/"))
	}

	return nil
}

func (b *MemoryBucket) List(ctx context.Context, query Query) iter.Seq2[ObjectInfo, error] {
	b.mu.Lock()
	var infos []ObjectInfo
	for k, data := range b.objects {
		if strings.HasPrefix(k, query.Prefix) {
			infos = append(infos, ObjectInfo{Key: k, Size: int64(len(data))})
		}
	}
	b.mu.Unlock()

	slices.SortFunc(infos, func(a, b ObjectInfo) int { return strings.Compare(a.Key, b.Key) })

	return func(yield func(ObjectInfo, error) bool) {
		for _, info := range infos {
			if !yield(info, nil) {
				return
			}
		}
	}
}

func (b *MemoryBucket) CheckPermissions(ctx context.Context, cfg CheckPermissionsConfig) error {
	return checkPermissions(ctx, b, cfg, func(err error) error { return err })
}
