package main

import (
	"errors"
	"fmt"

	cli "github.com/urfave/cli/v2"
)

var cmdBookmark = &cli.Command{
	Name:  "bookmark",
	Usage: "manage saved articles",
	Subcommands: []*cli.Command{
		{
			Name:      "add",
			Usage:     "save a URL",
			ArgsUsage: "<url>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "title",
					Usage: "override the bookmark title",
				},
			},
			Action: runBookmarkAdd,
		},
		{
			Name:   "list",
			Usage:  "list saved articles",
			Action: runBookmarkList,
		},
		{
			Name:      "rm",
			Usage:     "remove a saved article",
			ArgsUsage: "<id>",
			Action:    runBookmarkRemove,
		},
	},
}

func runBookmarkAdd(cctx *cli.Context) error {
	rawURL := cctx.Args().First()
	if rawURL == "" {
		return errors.New("url argument is required")
	}
	api, _, err := authClient(cctx)
	if err != nil {
		return err
	}
	var title *string
	if t := cctx.String("title"); t != "" {
		title = &t
	}
	bm, err := api.CreateBookmark(cctx.Context, rawURL, title)
	if err != nil {
		return err
	}
	fmt.Printf("Saved %s (%s)\n", bm.URL, bm.ID)
	return nil
}

func runBookmarkList(cctx *cli.Context) error {
	api, _, err := authClient(cctx)
	if err != nil {
		return err
	}
	bookmarks, err := api.ListBookmarks(cctx.Context)
	if err != nil {
		return err
	}
	if len(bookmarks) == 0 {
		fmt.Println("No bookmarks yet.")
		return nil
	}
	for _, bm := range bookmarks {
		title := bm.URL
		if bm.Title != nil {
			title = *bm.Title
		}
		fmt.Printf("%s  %s\n    %s\n", bm.ID, title, bm.URL)
	}
	return nil
}

func runBookmarkRemove(cctx *cli.Context) error {
	id := cctx.Args().First()
	if id == "" {
		return errors.New("id argument is required")
	}
	api, _, err := authClient(cctx)
	if err != nil {
		return err
	}
	if err := api.DeleteBookmark(cctx.Context, id); err != nil {
		return err
	}
	fmt.Println("Removed.")
	return nil
}
