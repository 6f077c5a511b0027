package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	cli "github.com/urfave/cli/v2"

	"github.com/lectern-app/lectern/client"
	"github.com/lectern-app/lectern/credstore"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(-1)
	}
}

var hostFlag = &cli.StringFlag{
	Name:    "host",
	Usage:   "method, hostname, and port of the lectern server",
	Value:   "http://localhost:2583",
	EnvVars: []string{"LECTERN_HOST"},
}

func run(args []string) error {
	app := cli.App{
		Name:    "lectern",
		Usage:   "read-later CLI: sign in, bookmarks, feeds",
		Version: versioninfo.Short(),
		Flags:   []cli.Flag{hostFlag},
	}
	app.Commands = []*cli.Command{
		cmdLogin,
		cmdLogout,
		cmdStatus,
		cmdAccounts,
		cmdSwitch,
		cmdBookmark,
		cmdFeed,
	}
	return app.Run(args)
}

var errNotLoggedIn = errors.New("not signed in (run 'lectern login')")

// authClient resolves the active account to an authenticated API client,
// refreshing the session token when it is close to expiry.
func authClient(cctx *cli.Context) (*client.Client, *credstore.StoredAccount, error) {
	ctx := cctx.Context
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := credstore.Open()
	if err != nil {
		return nil, nil, err
	}
	c := client.NewClient(cctx.String("host"))
	acct, err := credstore.GetValidAccount(ctx, store, c)
	if err != nil {
		return nil, nil, err
	}
	if acct == nil {
		return nil, nil, errNotLoggedIn
	}
	c.AuthToken = acct.SessionToken
	return c, acct, nil
}
