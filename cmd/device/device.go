// Package device implements the direct device commands. Each command talks
// to the unit over HTTP using the persisted settings to resolve names and
// GPIO mappings; no server is involved.
package device

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paularlott/cli"

	"github.com/ElZetto/espisy/internal/model"
	"github.com/ElZetto/espisy/internal/registry"
	"github.com/ElZetto/espisy/internal/settings"
	"github.com/ElZetto/espisy/internal/transport"
)

// session bundles the per-invocation stores. The registry is throwaway; it
// exists so records are derived and reconciled exactly like in serve mode.
type session struct {
	settings *settings.Store
	registry *registry.Registry
	client   *transport.Client
}

func newSession(cmd *cli.Command) (*session, error) {
	sets, err := settings.Open(cmd.GetString("settings"))
	if err != nil {
		return nil, err
	}
	return &session{
		settings: sets,
		registry: registry.New(),
		client:   transport.NewClient(time.Duration(cmd.GetInt("timeout")) * time.Second),
	}, nil
}

// resolveAddress maps a persisted name to its address; anything else is
// assumed to be an address already.
func (s *session) resolveAddress(key string) string {
	for _, e := range s.settings.Devices() {
		if e.Address == key || e.Name == key {
			return e.Address
		}
	}
	return key
}

// fetch probes the device live and registers it, with persisted GPIO
// mappings applied.
func (s *session) fetch(ctx context.Context, key string) (*model.DeviceRecord, error) {
	address := s.resolveAddress(key)
	state, err := s.client.FetchState(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to reach device: %w", err)
	}
	if _, err := s.registry.Add(address, state); err != nil {
		return nil, err
	}
	if err := s.settings.Reconcile(s.registry, address); err != nil {
		return nil, err
	}
	return s.registry.Get(address)
}

func (s *session) persist(rec *model.DeviceRecord) error {
	s.settings.Update(rec)
	if err := s.settings.Save(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Commands returns the device commands mounted at the root level.
func Commands() []*cli.Command {
	return []*cli.Command{
		listCommand(),
		addCommand(),
		getCommand(),
		removeCommand(),
		switchCommand("on", "Turn a switch on"),
		switchCommand("off", "Turn a switch off"),
		switchCommand("toggle", "Toggle a switch"),
		stateCommand(),
		mapGpioCommand(),
		readCommand(),
		eventCommand(),
		cmdCommand(),
		displayCommand(),
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List known devices",
		Description: "List the devices persisted in the settings file",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			entries := s.settings.Devices()
			if len(entries) == 0 {
				fmt.Println("No devices known. Run a scan or add one by address.")
				return nil
			}
			for _, e := range entries {
				mapped := make([]string, 0, len(e.Switches))
				for name, sw := range e.Switches {
					mapped = append(mapped, fmt.Sprintf("%s=GPIO%d", name, sw.Gpio))
				}
				sort.Strings(mapped)
				fmt.Printf("%s\t%s\t%s\n", e.Address, e.Name, strings.Join(mapped, " "))
			}
			return nil
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:        "add",
		Usage:       "Add a device",
		Description: "Probe an ESP Easy unit by IP address and persist it",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "address", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			rec, err := s.fetch(ctx, cmd.GetStringArg("address"))
			if err != nil {
				return err
			}
			if err := s.persist(rec); err != nil {
				return err
			}
			fmt.Printf("Device added: %s (%s)\n", rec.Name, rec.Address)
			printDevice(rec)
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:        "get",
		Usage:       "Show a device",
		Description: "Fetch the live state of a device by address or name",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "key", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			rec, err := s.fetch(ctx, cmd.GetStringArg("key"))
			if err != nil {
				return err
			}
			printDevice(rec)
			return nil
		},
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:        "remove",
		Usage:       "Remove a device",
		Description: "Drop a device from the settings file. Only the IP address is accepted, not the name.",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "address", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			address := cmd.GetStringArg("address")
			if !s.settings.Forget(address) {
				return fmt.Errorf("no device with address %s", address)
			}
			if err := s.settings.Save(); err != nil {
				return fmt.Errorf("failed to save settings: %w", err)
			}
			fmt.Println("Device removed")
			return nil
		},
	}
}

func switchCommand(action, usage string) *cli.Command {
	return &cli.Command{
		Name:        action,
		Usage:       usage,
		Description: usage + " by its task name. The switch must have a GPIO pin mapped.",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "key", Required: true},
			&cli.StringArg{Name: "switch", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			name := cmd.GetStringArg("switch")
			rec, err := s.fetch(ctx, cmd.GetStringArg("key"))
			if err != nil {
				return err
			}
			pin, err := rec.SwitchGpio(name)
			if err != nil {
				return err
			}

			var state int
			switch action {
			case "on":
				state, err = s.client.SwitchGpio(ctx, rec.Address, pin, true)
			case "off":
				state, err = s.client.SwitchGpio(ctx, rec.Address, pin, false)
			default:
				state, err = s.client.ToggleGpio(ctx, rec.Address, pin)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s/%s (GPIO %d) is now %d\n", rec.Name, name, pin, state)
			return nil
		},
	}
}

func stateCommand() *cli.Command {
	return &cli.Command{
		Name:        "state",
		Usage:       "Read a switch state",
		Description: "Read the live GPIO state of a mapped switch",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "key", Required: true},
			&cli.StringArg{Name: "switch", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			name := cmd.GetStringArg("switch")
			rec, err := s.fetch(ctx, cmd.GetStringArg("key"))
			if err != nil {
				return err
			}
			pin, err := rec.SwitchGpio(name)
			if err != nil {
				return err
			}
			state, err := s.client.GpioState(ctx, rec.Address, pin)
			if err != nil {
				return err
			}
			fmt.Printf("%s/%s (GPIO %d) = %d\n", rec.Name, name, pin, state)
			return nil
		},
	}
}

func mapGpioCommand() *cli.Command {
	return &cli.Command{
		Name:        "map-gpio",
		Usage:       "Map a switch to a GPIO pin",
		Description: "Record which GPIO pin a switch task actuates; the mapping is persisted",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "key", Required: true},
			&cli.StringArg{Name: "switch", Required: true},
			&cli.StringArg{Name: "pin", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			pin, err := strconv.Atoi(cmd.GetStringArg("pin"))
			if err != nil || pin < 0 {
				return fmt.Errorf("pin must be a non-negative number")
			}
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			name := cmd.GetStringArg("switch")
			rec, err := s.fetch(ctx, cmd.GetStringArg("key"))
			if err != nil {
				return err
			}
			rec, err = s.registry.MapSwitchGpio(rec.Address, name, pin)
			if err != nil {
				return err
			}
			if err := s.persist(rec); err != nil {
				return err
			}
			fmt.Printf("%s/%s mapped to GPIO %d\n", rec.Name, name, pin)
			return nil
		},
	}
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:        "read",
		Usage:       "Read sensor values",
		Description: "Fetch the current sensor readings of a device",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "key", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			rec, err := s.fetch(ctx, cmd.GetStringArg("key"))
			if err != nil {
				return err
			}
			readings := rec.Readings()
			if len(readings) == 0 {
				fmt.Println("No sensor readings reported")
				return nil
			}
			for _, r := range readings {
				fmt.Printf("%s/%s\t%.*f\n", r.Task, r.Name, r.Decimals, r.Value)
			}
			return nil
		},
	}
}

func eventCommand() *cli.Command {
	return &cli.Command{
		Name:        "event",
		Usage:       "Fire a rule event",
		Description: "Fire a named event on the device's rule engine",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "key", Required: true},
			&cli.StringArg{Name: "name", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			address := s.resolveAddress(cmd.GetStringArg("key"))
			name := cmd.GetStringArg("name")
			if err := s.client.Event(ctx, address, name); err != nil {
				return err
			}
			fmt.Printf("Event %s sent to %s\n", name, address)
			return nil
		},
	}
}

func cmdCommand() *cli.Command {
	return &cli.Command{
		Name:        "cmd",
		Usage:       "Send a raw command",
		Description: "Send a raw control command (e.g. GPIO,12,1) and print the reply",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "key", Required: true},
			&cli.StringArg{Name: "command", Required: true},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			address := s.resolveAddress(cmd.GetStringArg("key"))
			result, err := s.client.Command(ctx, address, cmd.GetStringArg("command"))
			if err != nil {
				return err
			}
			if result.Raw == "" {
				fmt.Println("(no reply body)")
				return nil
			}
			fmt.Println(result.Raw)
			return nil
		},
	}
}

func displayCommand() *cli.Command {
	return &cli.Command{
		Name:        "display",
		Usage:       "Write to a display",
		Description: "Write text to an LCD/OLED device, or send clear/on/off with --cmd",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "key", Required: true},
		},
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "row", Usage: "Display row (1-based)", DefaultValue: 1},
			&cli.IntFlag{Name: "col", Usage: "Display column (1-based)", DefaultValue: 1},
			&cli.StringFlag{Name: "text", Usage: "Text to write"},
			&cli.StringFlag{Name: "cmd", Usage: "Display command: clear, on, off"},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			text := cmd.GetString("text")
			sub := cmd.GetString("cmd")
			if text == "" && sub == "" {
				return fmt.Errorf("either --text or --cmd is required")
			}

			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			rec, err := s.fetch(ctx, cmd.GetStringArg("key"))
			if err != nil {
				return err
			}
			if !rec.HasCapability(model.CapDisplay) {
				return fmt.Errorf("%s has no display", rec.Name)
			}

			if sub != "" {
				if err := s.client.DisplayCmd(ctx, rec.Address, sub); err != nil {
					return err
				}
				fmt.Printf("Display command %s sent to %s\n", sub, rec.Name)
				return nil
			}
			if err := s.client.DisplayWrite(ctx, rec.Address, cmd.GetInt("row"), cmd.GetInt("col"), text); err != nil {
				return err
			}
			fmt.Printf("Text written to %s\n", rec.Name)
			return nil
		},
	}
}

func printDevice(rec *model.DeviceRecord) {
	fmt.Printf("Name:         %s\n", rec.Name)
	fmt.Printf("Address:      %s\n", rec.Address)

	caps := rec.Capabilities.List()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	fmt.Printf("Capabilities: %s\n", strings.Join(names, ", "))

	if len(rec.Switches) > 0 {
		fmt.Println("Switches:")
		keys := make([]string, 0, len(rec.Switches))
		for name := range rec.Switches {
			keys = append(keys, name)
		}
		sort.Strings(keys)
		for _, name := range keys {
			if pin := rec.Switches[name].Gpio; pin != nil {
				fmt.Printf("  - %s (GPIO %d)\n", name, *pin)
			} else {
				fmt.Printf("  - %s (no GPIO mapped)\n", name)
			}
		}
	}
	fmt.Printf("Refreshed:    %s\n", rec.RefreshedAt.Format(time.RFC3339))
}
