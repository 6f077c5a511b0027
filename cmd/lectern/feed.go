package main

import (
	"errors"
	"fmt"

	cli "github.com/urfave/cli/v2"
)

var cmdFeed = &cli.Command{
	Name:  "feed",
	Usage: "manage feed subscriptions",
	Subcommands: []*cli.Command{
		{
			Name:      "add",
			Usage:     "subscribe to a feed",
			ArgsUsage: "<feed-url>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "title",
					Usage: "override the feed title",
				},
			},
			Action: runFeedAdd,
		},
		{
			Name:   "list",
			Usage:  "list feed subscriptions",
			Action: runFeedList,
		},
		{
			Name:      "rm",
			Usage:     "unsubscribe from a feed",
			ArgsUsage: "<id>",
			Action:    runFeedRemove,
		},
	},
}

func runFeedAdd(cctx *cli.Context) error {
	feedURL := cctx.Args().First()
	if feedURL == "" {
		return errors.New("feed-url argument is required")
	}
	api, _, err := authClient(cctx)
	if err != nil {
		return err
	}
	var title *string
	if t := cctx.String("title"); t != "" {
		title = &t
	}
	feed, err := api.SubscribeFeed(cctx.Context, feedURL, title)
	if err != nil {
		return err
	}
	fmt.Printf("Subscribed to %s (%s)\n", feed.FeedURL, feed.ID)
	return nil
}

func runFeedList(cctx *cli.Context) error {
	api, _, err := authClient(cctx)
	if err != nil {
		return err
	}
	feeds, err := api.ListFeeds(cctx.Context)
	if err != nil {
		return err
	}
	if len(feeds) == 0 {
		fmt.Println("No feed subscriptions.")
		return nil
	}
	for _, feed := range feeds {
		title := feed.FeedURL
		if feed.Title != nil {
			title = *feed.Title
		}
		fmt.Printf("%s  %s\n    %s\n", feed.ID, title, feed.FeedURL)
	}
	return nil
}

func runFeedRemove(cctx *cli.Context) error {
	id := cctx.Args().First()
	if id == "" {
		return errors.New("id argument is required")
	}
	api, _, err := authClient(cctx)
	if err != nil {
		return err
	}
	if err := api.UnsubscribeFeed(cctx.Context, id); err != nil {
		return err
	}
	fmt.Println("Unsubscribed.")
	return nil
}
