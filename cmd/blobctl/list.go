package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourorg/go-blob-kit/pkg/blobclient"
	"github.com/yourorg/go-blob-kit/pkg/csvutil"
	"github.com/yourorg/go-blob-kit/pkg/errors"
)

type lsOptions struct {
	prefix string
	token  string
	all    bool
	format string
}

func newLsCmd(a *app) *cobra.Command {
	var opts lsOptions
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List blobs in key order, one page at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.format {
			case "table", "csv", "json":
			default:
				return errors.Errorf(errors.ErrorCodeInvalidArgument, "unknown format %q, use table, csv or json", opts.format)
			}
			return a.withClient(func(ctx context.Context, client blobclient.BlobClient) error {
				return a.list(ctx, client, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "only list keys starting with prefix")
	cmd.Flags().StringVar(&opts.token, "token", "", "continuation token from a previous page")
	cmd.Flags().BoolVar(&opts.all, "all", false, "follow continuation tokens to the end")
	cmd.Flags().StringVarP(&opts.format, "format", "o", "table", "output format: table, csv or json")
	return cmd
}

func (a *app) list(ctx context.Context, client blobclient.BlobClient, opts lsOptions) error {
	var page *blobclient.EnumerationResult
	if opts.all {
		blobs, err := blobclient.EnumerateAll(ctx, client, opts.prefix)
		if err != nil {
			return err
		}
		page = blobclient.NewEnumerationResult(blobs, "")
	} else {
		var err error
		page, err = client.Enumerate(ctx, blobclient.EnumerateOptions{
			Prefix:            opts.prefix,
			ContinuationToken: opts.token,
		})
		if err != nil {
			return err
		}
	}

	switch opts.format {
	case "json":
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	case "csv":
		return csvutil.WriteListing(a.out, page.Blobs)
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSIZE\tCONTENT-TYPE\tLAST-UPDATE")
	for _, b := range page.Blobs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", b.Key, b.ContentLength, b.ContentType, formatTime(b.LastUpdateUTC))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d blobs, %d bytes\n", page.Count, page.Bytes)
	if page.HasMore() {
		fmt.Fprintf(a.out, "next page: --token %s\n", page.NextContinuationToken)
	}
	return nil
}
