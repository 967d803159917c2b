package datalake

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"golang.org/x/sync/errgroup"
)

const defaultAzureEndpoint = "blob.core.windows.net"

type azureConfig struct {
	tenantID     string
	clientID     string
	clientSecret string
	accountKey   string
	endpoint     string
}

type AzureOption func(*azureConfig)

// WithServicePrincipal authenticates with an Entra ID application
// registration. This is how the scheduled jobs run in production.
func WithServicePrincipal(tenantID, clientID, clientSecret string) AzureOption {
	return func(cfg *azureConfig) {
		cfg.tenantID = tenantID
		cfg.clientID = clientID
		cfg.clientSecret = clientSecret
	}
}

// WithAccountKey authenticates with the storage account's shared key, which
// is mostly useful for ad-hoc runs against a scratch account.
func WithAccountKey(key string) AzureOption {
	return func(cfg *azureConfig) {
		cfg.accountKey = key
	}
}

func WithEndpoint(ep string) AzureOption {
	return func(cfg *azureConfig) {
		cfg.endpoint = ep
	}
}

var _ Bucket = (*AzureBucket)(nil)

// AzureBucket is a Bucket backed by a container of an Azure storage account.
// The analytics lake is a Data Lake Gen2 account, which the blob endpoint
// reads and writes compatibly as long as folder marker blobs are skipped
// when listing.
type AzureBucket struct {
	client    *azblob.Client
	container string
}

// NewAzureBucket creates a Bucket over an Azure storage container. Exactly
// one authentication option must be provided: either WithServicePrincipal
// or WithAccountKey.
func NewAzureBucket(ctx context.Context, accountName string, container string, authOpt AzureOption, otherOpts ...AzureOption) (*AzureBucket, error) {
	cfg := azureConfig{endpoint: defaultAzureEndpoint}
	for _, opt := range append(otherOpts, authOpt) {
		opt(&cfg)
	}
	if cfg.clientSecret != "" && cfg.accountKey != "" {
		return nil, fmt.Errorf("cannot specify both a service principal and a storage account key")
	}

	serviceUrl, err := url.Parse(fmt.Sprintf("https://%s.%s/", accountName, cfg.endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to parse service url: %w", err)
	}

	var client *azblob.Client
	if cfg.clientSecret != "" {
		if cred, err := azidentity.NewClientSecretCredential(cfg.tenantID, cfg.clientID, cfg.clientSecret, nil); err != nil {
			return nil, fmt.Errorf("failed to create service principal credential: %w", err)
		} else if client, err = azblob.NewClient(serviceUrl.String(), cred, nil); err != nil {
			return nil, fmt.Errorf("failed to create client with service principal: %w", err)
		}
	} else if sak := cfg.accountKey; sak != "" {
		if _, err := base64.StdEncoding.DecodeString(sak); err != nil {
			return nil, fmt.Errorf("invalid storage account key: must be base64-encoded")
		} else if cred, err := azblob.NewSharedKeyCredential(accountName, sak); err != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", err)
		} else if client, err = azblob.NewClientWithSharedKeyCredential(serviceUrl.String(), cred, nil); err != nil {
			return nil, fmt.Errorf("failed to create client with storage account key: %w", err)
		}
	} else {
		return nil, fmt.Errorf("must specify either a service principal or a storage account key")
	}

	return &AzureBucket{
		client:    client,
		container: container,
	}, nil
}

func (b *AzureBucket) NewReader(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.client.DownloadStream(ctx, b.container, key, nil)
	if err != nil {
		return nil, err
	}

	return r.Body, nil
}

func (b *AzureBucket) NewWriter(ctx context.Context, key string) io.WriteCloser {
	return newBlobWriteCloser(ctx, b.Upload, key)
}

func (b *AzureBucket) Upload(ctx context.Context, key string, r io.Reader) error {
	_, err := b.client.UploadStream(ctx, b.container, key, r, nil)

	return err
}

func (b *AzureBucket) Info(ctx context.Context, key string) (ObjectInfo, error) {
	props, err := b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return ObjectInfo{}, fmt.Errorf("%q: %w", key, ErrObjectNotFound)
		}
		return ObjectInfo{}, err
	}

	var size int64
	if props.ContentLength != nil {
		size = *props.ContentLength
	}

	return ObjectInfo{Key: key, Size: size}, nil
}

func (b *AzureBucket) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := b.Info(ctx, key); errors.Is(err, ErrObjectNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	return true, nil
}

func (b *AzureBucket) URI(key string) string {
	return strings.TrimSuffix(b.client.URL(), "/") + "/" + path.Join(b.container, key)
}

func (b *AzureBucket) Delete(ctx context.Context, uris []string) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(5)

	for _, uri := range uris {
		trimmed := strings.TrimPrefix(strings.TrimPrefix(uri, b.client.URL()), "/")
		container, blobName, ok := strings.Cut(trimmed, "/")
		if !ok {
			return fmt.Errorf("invalid uri %q", uri)
		}
		group.Go(func() error {
			if _, err := b.client.DeleteBlob(groupCtx, container, blobName, nil); err != nil {
				return fmt.Errorf("deleting blob %q: %w", uri, err)
			}
			return nil
		})
	}

	return group.Wait()
}

func (b *AzureBucket) List(ctx context.Context, query Query) iter.Seq2[ObjectInfo, error] {
	input := &azblob.ListBlobsFlatOptions{
		Include: azblob.ListBlobsInclude{Metadata: true},
	}
	if query.Prefix != "" {
		input.Prefix = &query.Prefix
	}
	pager := b.client.NewListBlobsFlatPager(b.container, input)

	return func(yield func(ObjectInfo, error) bool) {
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(ObjectInfo{}, err)
				return
			}

			for _, obj := range page.Segment.BlobItems {
				if isFolder, ok := obj.Metadata["hdi_isfolder"]; ok && *isFolder == "true" {
					// Data Lake Gen2 directories show up as zero-byte marker
					// blobs in a flat listing.
					continue
				}

				var size int64
				if obj.Properties != nil && obj.Properties.ContentLength != nil {
					size = *obj.Properties.ContentLength
				}

				if !yield(ObjectInfo{
					Key:  *obj.Name,
					Size: size,
				}, nil) {
					return
				}
			}
		}
	}
}

func (b *AzureBucket) CheckPermissions(ctx context.Context, cfg CheckPermissionsConfig) error {
	handleErr := func(err error) error {
		if bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return errNoSuchContainer
		} else if bloberror.HasCode(err, bloberror.AuthorizationFailure, bloberror.AuthorizationPermissionMismatch) {
			return errUnauthorized
		}

		return err
	}

	return checkPermissions(ctx, b, cfg, handleErr)
}
