package blobclient_test

import (
	"testing"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/blobclient/blobtest"
)

func TestMemoryBlobClientConformance(t *testing.T) {
	blobtest.RunSuite(t, func(t *testing.T) blobclient.BlobClient {
		return blobclient.NewMemoryBlobClient(blobclient.MemorySettings{PageSize: 3})
	}, blobtest.Options{PageSize: 3})
}
