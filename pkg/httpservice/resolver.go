package httpservice

import (
	"strings"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/errors"
)

// ContainerResolver returns the client serving one user's container.
type ContainerResolver interface {
	Resolve(user, container string) (blobclient.BlobClient, error)
}

// PrefixResolver serves every container from a single backend, storing its
// blobs under "{user}/{container}/".
type PrefixResolver struct {
	Backend blobclient.BlobClient
}

// Resolve implements ContainerResolver.
func (r PrefixResolver) Resolve(user, container string) (blobclient.BlobClient, error) {
	for _, name := range []string{user, container} {
		if name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
			return nil, errors.Errorf(errors.ErrorCodeInvalidArgument, "invalid namespace %q", name)
		}
	}
	return blobclient.WithPrefix(r.Backend, user+"/"+container+"/"), nil
}
