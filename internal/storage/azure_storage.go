package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// AzureConfig locates the destination container. An empty AccountKey means
// ServiceURL carries its own authorization (SAS) or targets an emulator.
type AzureConfig struct {
	AccountName string
	AccountKey  string
	Container   string
	ServiceURL  string
}

// AzureSink uploads finalized images as block blobs.
type AzureSink struct {
	client    *azblob.Client
	container string
}

func NewAzureSink(cfg AzureConfig) (*AzureSink, error) {
	if strings.TrimSpace(cfg.Container) == "" {
		return nil, fmt.Errorf("azure container is required")
	}

	serviceURL := strings.TrimSpace(cfg.ServiceURL)
	if serviceURL == "" {
		if cfg.AccountName == "" {
			return nil, fmt.Errorf("azure account name or service URL is required")
		}
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}

	var (
		client *azblob.Client
		err    error
	)
	if cfg.AccountKey != "" {
		credential, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	} else {
		client, err = azblob.NewClientWithNoCredential(serviceURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}

	return &AzureSink{client: client, container: cfg.Container}, nil
}

// Put uploads data and returns the blob URL.
func (s *AzureSink) Put(ctx context.Context, name, mediaType string, data []byte) (string, error) {
	blobName := ObjectName(name, mediaType)
	_, err := s.client.UploadBuffer(ctx, s.container, blobName, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &mediaType},
	})
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return strings.TrimRight(s.client.URL(), "/") + "/" + s.container + "/" + blobName, nil
}
