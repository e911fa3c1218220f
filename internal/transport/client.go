// Package transport implements the HTTP side of the ESPEasy protocol: the
// /json state document and the /control command surface. Command responses
// from the firmware are frequently truncated or otherwise invalid JSON, so
// the client degrades to raw text instead of failing; only state fetches
// require a well-formed document.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ElZetto/espisy/internal/model"
)

// DefaultTimeout bounds a single request when the caller does not supply one.
const DefaultTimeout = 3 * time.Second

// Client talks to ESPEasy nodes. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a client whose requests time out after the given
// duration. A zero or negative timeout selects DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CommandResult carries a command response. Raw always holds the body text;
// Parsed is nil when the body was not valid JSON.
type CommandResult struct {
	Parsed map[string]any `json:"parsed,omitempty"`
	Raw    string         `json:"raw"`
}

// StateField extracts the integer "state" field from a command response,
// falling back to a substring scan when the firmware emitted broken JSON.
func (r *CommandResult) StateField() (int, bool) {
	if r.Parsed != nil {
		if v, ok := r.Parsed["state"]; ok {
			if f, ok := v.(float64); ok {
				return int(f), true
			}
		}
	}
	return scanStateField(r.Raw)
}

// scanStateField recovers the state value from a raw body. Status replies
// from the firmware are known to be truncated JSON, so the field is located
// by name and the following integer is parsed by hand.
func scanStateField(raw string) (int, bool) {
	idx := strings.Index(raw, `"state"`)
	if idx < 0 {
		return 0, false
	}
	rest := raw[idx+len(`"state"`):]
	rest = strings.TrimLeft(rest, ": \t\r\n")
	end := 0
	for end < len(rest) && (rest[end] == '-' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// FetchState retrieves and decodes the device's /json status document. The
// raw body is preserved on the returned state.
func (c *Client) FetchState(ctx context.Context, address string) (*model.State, error) {
	body, err := c.get(ctx, address, "json", "fetch state")
	if err != nil {
		return nil, err
	}

	var state model.State
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, &TransportError{Address: address, Op: "fetch state", Err: fmt.Errorf("decode state: %w", err)}
	}
	state.Raw = body
	return &state, nil
}

// Command sends an arbitrary command path (for example
// "control?cmd=GPIO,12,1" or "tools?cmd=reboot") and returns the response.
func (c *Client) Command(ctx context.Context, address, cmd string) (*CommandResult, error) {
	body, err := c.get(ctx, address, strings.TrimPrefix(cmd, "/"), "command")
	if err != nil {
		return nil, err
	}

	result := &CommandResult{Raw: strings.TrimSpace(string(body))}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		result.Parsed = parsed
	}
	return result, nil
}

// SwitchGpio drives a GPIO pin high or low and returns the state the device
// reports back.
func (c *Client) SwitchGpio(ctx context.Context, address string, pin int, on bool) (int, error) {
	level := 0
	if on {
		level = 1
	}
	return c.gpioCommand(ctx, address, fmt.Sprintf("control?cmd=GPIO,%d,%d", pin, level))
}

// ToggleGpio flips a GPIO pin and returns the resulting state.
func (c *Client) ToggleGpio(ctx context.Context, address string, pin int) (int, error) {
	return c.gpioCommand(ctx, address, fmt.Sprintf("control?cmd=gpiotoggle,%d", pin))
}

// GpioState reads the current state of a GPIO pin.
func (c *Client) GpioState(ctx context.Context, address string, pin int) (int, error) {
	return c.gpioCommand(ctx, address, fmt.Sprintf("control?cmd=status,gpio,%d", pin))
}

func (c *Client) gpioCommand(ctx context.Context, address, cmd string) (int, error) {
	result, err := c.Command(ctx, address, cmd)
	if err != nil {
		return 0, err
	}
	state, ok := result.StateField()
	if !ok {
		return 0, &TransportError{Address: address, Op: "command", Err: fmt.Errorf("no state field in response %q", result.Raw)}
	}
	return state, nil
}

// Event triggers a named event rule on the device.
func (c *Client) Event(ctx context.Context, address, name string) error {
	_, err := c.Command(ctx, address, "control?cmd=event,"+url.QueryEscape(name))
	return err
}

// DisplayWrite puts text on an attached LCD or OLED at the given row and
// column.
func (c *Client) DisplayWrite(ctx context.Context, address string, row, col int, text string) error {
	_, err := c.Command(ctx, address, fmt.Sprintf("control?cmd=LCD,%d,%d,%s", row, col, url.QueryEscape(text)))
	return err
}

// DisplayCmd runs a display control subcommand: "clear", "on" or "off".
func (c *Client) DisplayCmd(ctx context.Context, address, sub string) error {
	_, err := c.Command(ctx, address, "control?cmd=LCDCMD,"+url.QueryEscape(sub))
	return err
}

func (c *Client) get(ctx context.Context, address, path, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+address+"/"+path, nil)
	if err != nil {
		return nil, &TransportError{Address: address, Op: op, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Address: address, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Address: address, Op: op, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Address: address, Op: op, Err: err}
	}
	return body, nil
}
