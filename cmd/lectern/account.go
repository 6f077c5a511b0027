package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/lectern-app/lectern/client"
	"github.com/lectern-app/lectern/credstore"
	"github.com/lectern-app/lectern/localauth"
)

var cmdLogin = &cli.Command{
	Name:  "login",
	Usage: "sign in with Google",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "manual",
			Usage: "print the sign-in URL and paste the redirect back, instead of a local browser flow",
		},
	},
	Action: runLogin,
}

func runLogin(cctx *cli.Context) error {
	ctx := cctx.Context
	api := client.NewClient(cctx.String("host"))

	var res *client.CallbackResult
	var err error
	if cctx.Bool("manual") {
		res, err = manualLogin(ctx, api)
	} else {
		res, err = browserLogin(ctx, api)
	}
	if err != nil {
		return err
	}

	store, err := credstore.Open()
	if err != nil {
		return err
	}
	acct := credstore.StoredAccount{
		Email:        res.User.Email,
		SessionToken: res.Session.Token,
		ExpiresAt:    res.Session.ExpiresAt,
		CreatedAt:    time.Now(),
	}
	if res.User.DisplayName != nil {
		acct.Name = *res.User.DisplayName
	}
	if res.User.ProfilePicture != nil {
		acct.ProfilePicture = *res.User.ProfilePicture
	}
	if err := store.Save(acct); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	if err := store.SetActive(acct.Email); err != nil {
		return fmt.Errorf("activating account: %w", err)
	}

	if res.IsNewUser {
		fmt.Printf("Welcome to lectern, %s!\n", acct.Email)
	} else {
		fmt.Printf("Signed in as %s\n", acct.Email)
	}
	return nil
}

func browserLogin(ctx context.Context, api *client.Client) (*client.CallbackResult, error) {
	listener := localauth.NewListener()
	if err := listener.Start(ctx); err != nil {
		if errors.Is(err, localauth.ErrPortInUse) {
			return nil, fmt.Errorf("%w; close other sign-in attempts or use --manual", err)
		}
		return nil, err
	}
	defer listener.Stop()

	init, err := api.Initiate(ctx, listener.RedirectURI())
	if err != nil {
		return nil, err
	}

	fmt.Println("Opening your browser to sign in...")
	if err := localauth.OpenBrowser(init.AuthURL); err != nil {
		fmt.Println("Could not open a browser. Visit this URL to sign in:")
		fmt.Println()
		fmt.Printf("  %s\n\n", init.AuthURL)
	}

	cb, err := listener.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return api.Callback(ctx, cb.Code, cb.State)
}

func manualLogin(ctx context.Context, api *client.Client) (*client.CallbackResult, error) {
	init, err := api.Initiate(ctx, "")
	if err != nil {
		return nil, err
	}

	fmt.Println("Visit this URL to sign in:")
	fmt.Println()
	fmt.Printf("  %s\n\n", init.AuthURL)
	fmt.Print("Paste the full redirect URL here: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return nil, err
	}
	code, state, err := parseRedirect(strings.TrimSpace(line))
	if err != nil {
		return nil, err
	}
	return api.Callback(ctx, code, state)
}

func parseRedirect(raw string) (code, state string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing redirect URL: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", "", fmt.Errorf("sign-in failed: %s", e)
	}
	code, state = q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		return "", "", errors.New("redirect URL missing code or state")
	}
	return code, state, nil
}

var cmdLogout = &cli.Command{
	Name:  "logout",
	Usage: "sign out of the active account",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "all",
			Usage: "terminate every session of this account, on every device",
		},
	},
	Action: runLogout,
}

func runLogout(cctx *cli.Context) error {
	api, acct, err := authClient(cctx)
	if err != nil {
		if errors.Is(err, errNotLoggedIn) {
			fmt.Println("Not signed in.")
			return nil
		}
		return err
	}

	count, err := api.SignOut(cctx.Context, cctx.Bool("all"))
	if err != nil && !errors.Is(err, client.ErrUnauthorized) {
		// the server session may already be gone; still drop local creds
		fmt.Fprintf(os.Stderr, "warning: server sign-out failed: %v\n", err)
	}

	store, err := credstore.Open()
	if err != nil {
		return err
	}
	if err := store.Remove(acct.Email); err != nil {
		return err
	}
	if count > 1 {
		fmt.Printf("Signed out of %s (%d sessions terminated)\n", acct.Email, count)
	} else {
		fmt.Printf("Signed out of %s\n", acct.Email)
	}
	return nil
}

var cmdStatus = &cli.Command{
	Name:   "status",
	Usage:  "show the active account and session",
	Action: runStatus,
}

func runStatus(cctx *cli.Context) error {
	api, acct, err := authClient(cctx)
	if err != nil {
		if errors.Is(err, errNotLoggedIn) {
			fmt.Println("Not signed in.")
			return nil
		}
		return err
	}

	profile, err := api.Profile(cctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as: %s\n", profile.Email)
	if profile.DisplayName != nil {
		fmt.Printf("Name:         %s\n", *profile.DisplayName)
	}
	fmt.Printf("Session expires: %s\n", acct.ExpiresAt.Local().Format(time.RFC1123))

	sessions, err := api.Sessions(cctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Active sessions: %d\n", len(sessions))
	return nil
}

var cmdAccounts = &cli.Command{
	Name:   "accounts",
	Usage:  "list stored accounts",
	Action: runAccounts,
}

func runAccounts(cctx *cli.Context) error {
	store, err := credstore.Open()
	if err != nil {
		return err
	}
	accounts, err := store.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("No stored accounts.")
		return nil
	}
	active, err := store.GetActive()
	if err != nil {
		return err
	}
	for _, acct := range accounts {
		marker := " "
		if active != nil && active.Email == acct.Email {
			marker = "*"
		}
		state := "valid"
		if credstore.IsExpired(&acct) {
			state = "expired"
		}
		fmt.Printf("%s %s (%s)\n", marker, acct.Email, state)
	}
	return nil
}

var cmdSwitch = &cli.Command{
	Name:      "switch",
	Usage:     "switch the active account",
	ArgsUsage: "<email>",
	Action:    runSwitch,
}

func runSwitch(cctx *cli.Context) error {
	email := cctx.Args().First()
	if email == "" {
		return errors.New("email argument is required")
	}
	store, err := credstore.Open()
	if err != nil {
		return err
	}
	if err := store.SetActive(email); err != nil {
		return err
	}
	fmt.Printf("Active account: %s\n", email)
	return nil
}
