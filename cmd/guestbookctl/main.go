package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/guestbook/internal/client"
	"github.com/danmuck/guestbook/internal/config"
	"github.com/danmuck/guestbook/internal/guest"
	"github.com/danmuck/guestbook/internal/logging"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitRemote = 2
	exitUsage  = 64
)

var errUsage = errors.New("usage")

const usageText = `usage: guestbookctl [-addr host:port] [-config path] <command> [args]

commands:
  login EMAIL PASSWORD
  register EMAIL
  retrieve EMAIL
  update EMAIL key=value...
  delete EMAIL
  comment EMAIL TEXT
  entries
  logs
  users [key=value...]

keys: name address city postcode telephone email password
`

func main() {
	logging.ConfigureRuntime()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("guestbookctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usageText) }
	addr := fs.String("addr", "", "server address (overrides config)")
	cfgPath := fs.String("config", "", "path to guestbook TOML config")
	timeout := fs.Duration("timeout", 0, "overall call timeout (0 uses the config io timeout)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(stderr, "guestbookctl: %v\n", err)
			return exitFailed
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Client.Addr = *addr
	}
	c := client.New(cfg.Client.Addr,
		client.WithDialTimeout(cfg.Client.DialTimeout),
		client.WithIOTimeout(cfg.Client.IOTimeout))

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	err := dispatch(ctx, c, fs.Args(), stdout)
	var remote *client.RemoteError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "guestbookctl: %v\n", err)
		fmt.Fprint(stderr, usageText)
		return exitUsage
	case errors.As(err, &remote):
		fmt.Fprintf(stderr, "guestbookctl: server error: %v\n", remote.Detail)
		return exitRemote
	default:
		fmt.Fprintf(stderr, "guestbookctl: %v\n", err)
		return exitFailed
	}
}

func dispatch(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: command required", errUsage)
	}
	cmd, rest := args[0], args[1:]
	need := func(n int) error {
		if len(rest) < n {
			return fmt.Errorf("%w: %s needs %d argument(s)", errUsage, cmd, n)
		}
		return nil
	}

	switch cmd {
	case "login":
		if err := need(2); err != nil {
			return err
		}
		valid, admin, err := c.Login(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "valid=%t admin=%t\n", valid, admin)
	case "register":
		if err := need(1); err != nil {
			return err
		}
		return printFlag(out, "registered")(c.Register(ctx, rest[0]))
	case "retrieve":
		if err := need(1); err != nil {
			return err
		}
		lookup, err := guest.ForEmail(rest[0])
		if err != nil {
			return err
		}
		g, found, err := c.RetrieveGuest(ctx, lookup)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(out, "not found")
			return nil
		}
		printGuest(out, g)
	case "update":
		if err := need(2); err != nil {
			return err
		}
		f, err := parseFields(rest[1:])
		if err != nil {
			return err
		}
		f.Email = rest[0]
		g, err := guest.New(f)
		if err != nil {
			return err
		}
		return printFlag(out, "updated")(c.UpdateGuest(ctx, g))
	case "delete":
		if err := need(1); err != nil {
			return err
		}
		g, err := guest.ForEmail(rest[0])
		if err != nil {
			return err
		}
		return printFlag(out, "deleted")(c.DeleteGuest(ctx, g))
	case "comment":
		if err := need(2); err != nil {
			return err
		}
		e, err := guest.NewEntry(0, rest[0], strings.Join(rest[1:], " "), "")
		if err != nil {
			return err
		}
		return printFlag(out, "submitted")(c.SubmitComment(ctx, e))
	case "entries":
		entries, err := c.GetEntries(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s\n\n", e)
		}
	case "logs":
		logs, err := c.GetLogs(ctx)
		if err != nil {
			return err
		}
		for _, l := range logs {
			fmt.Fprintln(out, l)
		}
	case "users":
		f, err := parseFields(rest)
		if err != nil {
			return err
		}
		criteria, err := guest.NewCriteria(f)
		if err != nil {
			return err
		}
		users, err := c.GetUsers(ctx, criteria)
		if err != nil {
			return err
		}
		for _, g := range users {
			printGuest(out, g)
		}
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	return nil
}

func printFlag(out io.Writer, label string) func(bool, error) error {
	return func(ok bool, err error) error {
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s=%t\n", label, ok)
		return nil
	}
}

func printGuest(out io.Writer, g guest.Guest) {
	f := g.Fields()
	fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\t%s\n", f.Email, f.Name, f.Address, f.City, f.Postcode, f.Telephone)
}

// parseFields reads key=value pairs into guest fields.
func parseFields(pairs []string) (guest.Fields, error) {
	var f guest.Fields
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return guest.Fields{}, fmt.Errorf("%w: expected key=value, got %q", errUsage, pair)
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			f.Name = value
		case "address":
			f.Address = value
		case "city":
			f.City = value
		case "postcode":
			f.Postcode = value
		case "telephone", "phone":
			f.Telephone = value
		case "email":
			f.Email = value
		case "password":
			f.Password = value
		default:
			return guest.Fields{}, fmt.Errorf("%w: unknown field %q", errUsage, key)
		}
	}
	return f, nil
}
