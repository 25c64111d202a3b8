package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	"github.com/blackmichael/bluesky-marketplace/internal/marketplace"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printListings(w io.Writer, listings []domain.Listing) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TITLE\tPRICE\tCATEGORY\tLOCATION\tPOSTED\tAUTHOR")
	for _, l := range listings {
		author := l.Author.Handle
		if author == "" {
			author = l.Author.DID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.Title,
			l.Price,
			l.Category,
			l.Location.String(),
			l.CreatedAt.Format("2006-01-02"),
			author,
		)
	}
	return tw.Flush()
}

func printResult(w io.Writer, res *marketplace.Result) error {
	if jsonOutput {
		return printJSON(w, res)
	}
	if err := printListings(w, res.Listings); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d of %d listings (source: %s)", len(res.Listings), res.Total, res.Source)
	if res.Cursor != "" {
		fmt.Fprintf(w, ", next page: --cursor %s", res.Cursor)
	}
	fmt.Fprintln(w)
	for _, f := range res.Failed {
		logger.Warn("could not read repository", "did", f.DID, "error", f.Err)
	}
	return nil
}
