package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/tokenbridge/internal/app"
	"github.com/florianilch/tokenbridge/internal/tokenstore"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "inspect or seed the persisted token",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print whether a token is stored",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "reveal",
						Usage: "print the raw token value",
					},
				},
				Action: tokenShowAction,
			},
			{
				Name:   "set",
				Usage:  "store a token read from the terminal or stdin",
				Action: tokenSetAction,
			},
		},
	}
}

// openStore builds the configured store for one-off token commands.
func openStore(ctx context.Context, cmd *cli.Command) (*app.Config, tokenstore.Store, func() error, error) {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	store, closeStore, err := cfg.Storage.NewTokenStore()
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, nil, fmt.Errorf("failed to create token store: %w", err)
	}

	return cfg, store, func() error {
		return errors.Join(closeStore(), shutdown(context.Background()))
	}, nil
}

func tokenShowAction(ctx context.Context, cmd *cli.Command) error {
	cfg, store, closeFn, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	tok, err := store.Read(ctx, cfg.Bridge.Key)
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}

	value, ok := tok.Value()
	switch {
	case !ok:
		_, err = fmt.Fprintln(cmd.Root().Writer, "absent")
	case cmd.Bool("reveal"):
		_, err = fmt.Fprintln(cmd.Root().Writer, value)
	default:
		_, err = fmt.Fprintf(cmd.Root().Writer, "present (%d bytes)\n", len(value))
	}
	return err
}

func tokenSetAction(ctx context.Context, cmd *cli.Command) error {
	cfg, store, closeFn, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	token, err := readToken(cmd.Root().Reader, cmd.Root().ErrWriter)
	if err != nil {
		return err
	}

	if err := store.Write(ctx, cfg.Bridge.Key, token); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}

// readToken reads one token without echo from a terminal, or the first line of r.
func readToken(r io.Reader, prompt io.Writer) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(prompt, "token: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading token from terminal: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no token given")
	}
	return line, nil
}
