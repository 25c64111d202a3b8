package main

import (
	"errors"
	"fmt"

	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	"github.com/spf13/cobra"
)

var publish struct {
	title       string
	description string
	price       string
	category    string
	condition   string
	zipCode     string
	city        string
	state       string
	tags        []string
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Write a listing to your repository and ask the AppView to index it",
	Example: `  MARKETPLACE_PASSWORD=app-password marketplace publish --handle me.bsky.social \
    --title "Road bike" --price '$450' --category Sports --condition good --zip 10001`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Handle == "" || cfg.Password == "" {
			return errors.New("--handle and MARKETPLACE_PASSWORD are required to publish")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}

		record := domain.ListingRecord{
			Title:       publish.title,
			Description: publish.description,
			Price:       publish.price,
			Category:    publish.category,
			Condition:   publish.condition,
			Tags:        domain.ParseTags(publish.tags...),
		}
		if publish.zipCode != "" || publish.city != "" || publish.state != "" {
			record.Location = &domain.Location{
				ZipCode: publish.zipCode,
				City:    publish.city,
				State:   publish.state,
			}
		}
		if err := domain.ValidateRecord(&record); err != nil {
			return err
		}

		uri, cid, err := a.pds.CreateListing(ctx, record)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", uri)
		a.known.Add(a.selfDID)

		if a.appView == nil {
			return nil
		}
		author, err := a.pds.GetProfile(ctx, a.selfDID)
		if err != nil {
			author = &domain.Author{DID: a.selfDID, Handle: cfg.Handle}
		}
		// The record is already in the repository; a failed notification
		// only delays indexing until the firehose catches up.
		if err := a.appView.NotifyNewListing(ctx, &domain.IndexRequest{
			URI:     uri,
			CID:     cid,
			Listing: &record,
			Author:  author,
		}); err != nil {
			logger.Warn("failed to notify appview", "uri", uri, "error", err)
			return nil
		}
		logger.Info("appview notified", "uri", uri)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
	f := publishCmd.Flags()
	f.StringVar(&publish.title, "title", "", "Listing title")
	f.StringVar(&publish.description, "description", "", "Listing description")
	f.StringVar(&publish.price, "price", "", "Price as shown, e.g. $450 or 1,200")
	f.StringVar(&publish.category, "category", "", "Category")
	f.StringVar(&publish.condition, "condition", "", "Condition (new, like-new, good, fair, poor)")
	f.StringVar(&publish.zipCode, "zip", "", "ZIP code")
	f.StringVar(&publish.city, "city", "", "City")
	f.StringVar(&publish.state, "state", "", "State")
	f.StringSliceVar(&publish.tags, "tags", nil, "Comma-separated tags")
	_ = publishCmd.MarkFlagRequired("title")
}
