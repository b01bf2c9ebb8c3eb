package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/urfave/cli/v2"
)

// LoginCommand returns the login command.
// Login exchanges email and password for a bearer token and stores it.
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in and store the access token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "email",
				Aliases:  []string{"e"},
				Usage:    "Account email",
				Required: true,
				EnvVars:  []string{"CATALOGSYNC_EMAIL"},
			},
			&cli.BoolFlag{
				Name:  "password-stdin",
				Usage: "Read the password from stdin instead of prompting",
			},
		},
		Action: loginAction,
	}
}

func loginAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return exitError(err)
	}
	defer s.Close()

	password, err := readPassword(c)
	if err != nil {
		return exitError(err)
	}

	ctx := commandContext(c)
	token, err := s.client.Login(ctx, c.String("email"), password)
	if err != nil {
		return exitError(err)
	}
	if err := s.creds.Set(ctx, token); err != nil {
		return exitError(fmt.Errorf("store credential: %w", err))
	}

	fmt.Fprintf(outWriter(c), "Logged in to %s\n", s.meta.BaseURL)
	return nil
}

// readPassword reads one line from stdin. On a terminal it prompts on
// stderr and disables echo.
func readPassword(c *cli.Context) (string, error) {
	in := c.App.Reader
	if in == nil {
		in = os.Stdin
	}

	if f, ok := in.(*os.File); ok && !c.Bool("password-stdin") && term.IsTerminal(f.Fd()) {
		fmt.Fprint(errWriter(c), "Password: ")
		b, err := term.ReadPassword(f.Fd())
		fmt.Fprintln(errWriter(c))
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}

// LogoutCommand returns the logout command.
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Remove the stored access token",
		Action: logoutAction,
	}
}

func logoutAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return exitError(err)
	}
	defer s.Close()

	if err := s.creds.Clear(commandContext(c)); err != nil {
		return exitError(fmt.Errorf("clear credential: %w", err))
	}
	fmt.Fprintln(outWriter(c), "Logged out")
	return nil
}
