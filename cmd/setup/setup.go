// Package setup implements the interactive first-run wizard. It writes the
// settings file, optionally runs a first scan, and mints the API token.
package setup

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/paularlott/cli"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/ElZetto/espisy/internal/registry"
	"github.com/ElZetto/espisy/internal/scanner"
	"github.com/ElZetto/espisy/internal/settings"
	"github.com/ElZetto/espisy/internal/transport"
)

// wizard wraps the prompt I/O so the flow can run against scripted input.
type wizard struct {
	in  *bufio.Reader
	out io.Writer
}

// ask prompts for a line and returns def when the answer is empty.
func (w *wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}
	line, err := w.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

// confirm prompts for a yes/no answer, returning def on an empty one.
func (w *wizard) confirm(prompt string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	answer, err := w.ask(fmt.Sprintf("%s (%s)", prompt, hint), "")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// generateToken returns 32 random bytes, hex encoded.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// hashToken derives the bcrypt hash that serve mode checks bearer tokens
// against.
func hashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// readSecret reads a token without echo when attached to a terminal and
// falls back to a plain line read otherwise.
func readSecret(w *wizard, prompt string) (string, error) {
	fmt.Fprint(w.out, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(w.out, "")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := w.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Command returns the setup command.
func Command() *cli.Command {
	return &cli.Command{
		Name:        "setup",
		Usage:       "Interactive first-run setup",
		Description: "Walk through settings file, scan network and API token creation",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			w := &wizard{in: bufio.NewReader(os.Stdin), out: os.Stdout}
			return runWizard(ctx, cmd, w)
		},
	}
}

func runWizard(ctx context.Context, cmd *cli.Command, w *wizard) error {
	fmt.Fprintln(w.out, "espisy setup")
	fmt.Fprintln(w.out, "")

	path := cmd.GetString("settings")
	if path == "" {
		var err error
		if path, err = settings.DefaultPath(); err != nil {
			return err
		}
	}
	path, err := w.ask("Settings file", path)
	if err != nil {
		return err
	}
	sets, err := settings.Open(path)
	if err != nil {
		return err
	}

	defNet := sets.Network()
	if defNet == "" {
		defNet = "192.168.1.0/24"
	}
	var network string
	for {
		network, err = w.ask("Network to scan (CIDR)", defNet)
		if err != nil {
			return err
		}
		if _, _, err := net.ParseCIDR(network); err == nil {
			break
		}
		fmt.Fprintf(w.out, "%q is not a CIDR range, try something like 192.168.1.0/24\n", network)
	}
	sets.SetNetwork(network)
	if err := sets.Save(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	fmt.Fprintf(w.out, "Settings saved to %s\n\n", sets.Path())

	if ok, err := w.confirm("Scan the network now?", true); err != nil {
		return err
	} else if ok {
		if err := scanNow(ctx, cmd, w, sets, network); err != nil {
			return err
		}
	}

	ok, err := w.confirm("Generate an API token for serve mode?", true)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w.out, "Setup complete. Start the server with: espisy serve")
		return nil
	}

	own, err := w.confirm("Enter your own token instead of a generated one?", false)
	if err != nil {
		return err
	}
	var token string
	if own {
		token, err = readSecret(w, "Token: ")
	} else {
		token, err = generateToken()
	}
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}

	hash, err := hashToken(token)
	if err != nil {
		return err
	}

	fmt.Fprintln(w.out, "")
	fmt.Fprintln(w.out, "API token (shown once, store it somewhere safe):")
	fmt.Fprintf(w.out, "  %s\n\n", token)
	fmt.Fprintln(w.out, "Start the server with the matching hash:")
	fmt.Fprintf(w.out, "  export ESPISY_TOKEN_HASH='%s'\n", hash)
	fmt.Fprintln(w.out, "  espisy serve")
	return nil
}

func scanNow(ctx context.Context, cmd *cli.Command, w *wizard, sets *settings.Store, network string) error {
	timeout := time.Duration(cmd.GetInt("timeout")) * time.Second
	reg := registry.New()
	eng := scanner.New(reg, transport.NewClient(timeout), sets, nil)
	eng.SetProbeTimeout(timeout)

	fmt.Fprintf(w.out, "Scanning %s ...\n", network)
	report, err := eng.ScanNetwork(ctx, network)
	if err != nil {
		return err
	}
	if report.Found == 0 {
		fmt.Fprintf(w.out, "No devices answered on %s\n\n", network)
		return nil
	}
	for _, h := range report.Hosts {
		fmt.Fprintf(w.out, "  %-15s  %-24s  %s\n", h.Address, h.Name, h.Outcome)
	}
	fmt.Fprintf(w.out, "Found %d devices in %s\n\n",
		report.Added, report.Duration().Round(10*time.Millisecond))

	for _, rec := range reg.List() {
		sets.Update(rec)
	}
	if err := sets.Save(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
