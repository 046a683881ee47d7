package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/csvutil"
	"github.com/yourorg/go-blob-kit/pkg/errors"
)

const defaultContentType = "application/octet-stream"

// contentTypeFor returns explicit when set, else a type guessed from the file extension.
func contentTypeFor(explicit, path string) string {
	if explicit != "" {
		return explicit
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return defaultContentType
}

func newPutCmd(a *app) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "put KEY [FILE]",
		Short: "Upload a file, or standard input when FILE is omitted or -",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return a.withClient(func(ctx context.Context, client blobclient.BlobClient) error {
				if len(args) == 1 || args[1] == "-" {
					data, err := io.ReadAll(a.in)
					if err != nil {
						return err
					}
					if err := client.Write(ctx, key, contentTypeFor(contentType, key), data); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "stdin -> %s (%d bytes)\n", key, len(data))
					return nil
				}

				path := args[1]
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				info, err := f.Stat()
				if err != nil {
					return err
				}

				if err := client.WriteStream(ctx, key, contentTypeFor(contentType, path), info.Size(), f); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s -> %s (%d bytes)\n", path, key, info.Size())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&contentType, "content-type", "t", "", "content type (guessed from the extension by default)")
	return cmd
}

func newPutManyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put-many MANIFEST",
		Short: "Upload the files listed in a CSV manifest (key,content_type,path)",
		Long: `Upload the files listed in a CSV manifest with the header
key,content_type,path. Relative paths are resolved against the manifest's
directory. An empty content_type is guessed from the file extension.

Writes stop at the first failure. Files before it stay uploaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := os.Open(args[0])
			if err != nil {
				return err
			}
			entries, err := csvutil.ParseManifest(manifest)
			manifest.Close()
			if err != nil {
				return err
			}

			base := filepath.Dir(args[0])
			requests := make([]blobclient.WriteRequest, 0, len(entries))
			for _, e := range entries {
				path := e.Path
				if !filepath.IsAbs(path) {
					path = filepath.Join(base, path)
				}
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				info, err := f.Stat()
				if err != nil {
					return err
				}
				requests = append(requests, blobclient.NewStreamRequest(e.Key, contentTypeFor(e.ContentType, path), info.Size(), f))
			}

			return a.withClient(func(ctx context.Context, client blobclient.BlobClient) error {
				err := client.WriteMany(ctx, requests)
				var batchErr *blobclient.BatchError
				if stderrors.As(err, &batchErr) {
					fmt.Fprintf(a.out, "uploaded %d of %d blobs\n", batchErr.Committed, len(requests))
					return err
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "uploaded %d blobs\n", len(requests))
				return nil
			})
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm KEY...",
		Short: "Delete blobs. Missing keys are not an error",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(ctx context.Context, client blobclient.BlobClient) error {
				for _, key := range args {
					if err := client.Delete(ctx, key); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "deleted %s\n", key)
				}
				return nil
			})
		},
	}
}

func newEmptyCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "empty",
		Short: "Delete every blob in the container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.NewInvalidArgumentError("refusing to empty the container without --yes")
			}
			return a.withClient(func(ctx context.Context, client blobclient.BlobClient) error {
				res, err := client.Empty(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "deleted %d blobs (%d bytes)\n", res.Count, res.Bytes)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion of every blob")
	return cmd
}
