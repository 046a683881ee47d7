package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
)

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY FILE",
		Short: "Download a blob into a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(ctx context.Context, client blobclient.BlobClient) error {
				n, err := download(ctx, client, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s -> %s (%d bytes)\n", args[0], args[1], n)
				return nil
			})
		},
	}
}

// download streams key into path through a temporary file so a failed
// transfer does not clobber an existing file.
func download(ctx context.Context, client blobclient.BlobClient, key, path string) (int64, error) {
	data, err := client.GetStream(ctx, key)
	if err != nil {
		return 0, err
	}
	defer data.Body.Close()

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, blobclient.ContextReader(ctx, data.Body))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, os.Rename(tmp, path)
}

func newCatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat KEY",
		Short: "Write a blob to standard output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(ctx context.Context, client blobclient.BlobClient) error {
				data, err := client.GetStream(ctx, args[0])
				if err != nil {
					return err
				}
				defer data.Body.Close()
				_, err = io.Copy(a.out, blobclient.ContextReader(ctx, data.Body))
				return err
			})
		},
	}
}

func newHeadCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "head KEY",
		Short: "Show the attributes of a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(ctx context.Context, client blobclient.BlobClient) error {
				md, err := client.GetMetadata(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(a.out)
					enc.SetIndent("", "  ")
					return enc.Encode(md)
				}

				w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Key:\t%s\n", md.Key)
				fmt.Fprintf(w, "Content-Type:\t%s\n", md.ContentType)
				fmt.Fprintf(w, "Content-Length:\t%d\n", md.ContentLength)
				fmt.Fprintf(w, "ETag:\t%s\n", md.ETag)
				fmt.Fprintf(w, "Created:\t%s\n", formatTime(md.CreatedUTC))
				fmt.Fprintf(w, "Last-Update:\t%s\n", formatTime(md.LastUpdateUTC))
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newExistsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exists KEY",
		Short: "Print whether a blob exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(ctx context.Context, client blobclient.BlobClient) error {
				ok, err := client.Exists(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, ok)
				return nil
			})
		},
	}
}

func newURLCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "url KEY",
		Short: "Print the provider URL of a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(ctx context.Context, client blobclient.BlobClient) error {
				u, err := client.GenerateURL(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, u)
				return nil
			})
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
