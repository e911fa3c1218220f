package mcp

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paularlott/mcp"
	"golang.org/x/crypto/bcrypt"

	"github.com/ElZetto/espisy/internal/log"
	"github.com/ElZetto/espisy/internal/model"
	"github.com/ElZetto/espisy/internal/registry"
	"github.com/ElZetto/espisy/internal/scanner"
	"github.com/ElZetto/espisy/internal/settings"
	"github.com/ElZetto/espisy/internal/transport"
)

// Deps carries the server's collaborators. Settings is optional.
type Deps struct {
	Registry  *registry.Registry
	Transport *transport.Client
	Scanner   *scanner.Engine
	Settings  *settings.Store
}

// Server wraps the MCP server with the device registry and transport
type Server struct {
	mcpServer *mcp.Server
	registry  *registry.Registry
	transport *transport.Client
	scanner   *scanner.Engine
	settings  *settings.Store
	tokenHash string
}

// NewServer creates a new MCP server for device control. tokenHash is the
// bcrypt hash of the bearer token; empty disables authentication.
func NewServer(deps Deps, tokenHash string) *Server {
	s := &Server{
		mcpServer: mcp.NewServer("espisy", "1.0.0"),
		registry:  deps.Registry,
		transport: deps.Transport,
		scanner:   deps.Scanner,
		settings:  deps.Settings,
		tokenHash: tokenHash,
	}
	s.registerTools()
	return s
}

// registerTools registers all device control tools
func (s *Server) registerTools() {
	// Registry tools

	// device_list - List registered devices
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_list", "List all registered ESP Easy devices with their capabilities and switches"),
		s.handleDeviceList,
	)

	// device_get - Get a device by address or name
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_get", "Get a registered device by IP address or unit name",
			mcp.String("device", "Device IP address or unit name", mcp.Required()),
		),
		s.handleDeviceGet,
	)

	// device_add - Probe and register a device
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_add", "Probe an ESP Easy device at the given IP address and add it to the registry",
			mcp.String("address", "Device IP address", mcp.Required()),
		),
		s.handleDeviceAdd,
	)

	// device_remove - Remove a device
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_remove", "Remove a device from the registry. Only the IP address is accepted, not the name.",
			mcp.String("address", "Device IP address", mcp.Required()),
		),
		s.handleDeviceRemove,
	)

	// device_scan - Discover devices on a subnet
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_scan", "Scan a subnet for ESP Easy devices and register every unit that answers",
			mcp.String("network", "Subnet in CIDR notation (e.g. 192.168.1.0/24). Defaults to the configured network."),
		),
		s.handleScan,
	)

	// Switch tools

	// switch_on - Turn a switch on
	s.mcpServer.RegisterTool(
		mcp.NewTool("switch_on", "Turn a mapped switch on",
			mcp.String("device", "Device IP address or unit name", mcp.Required()),
			mcp.String("switch", "Switch task name", mcp.Required()),
		),
		s.handleSwitchOn,
	)

	// switch_off - Turn a switch off
	s.mcpServer.RegisterTool(
		mcp.NewTool("switch_off", "Turn a mapped switch off",
			mcp.String("device", "Device IP address or unit name", mcp.Required()),
			mcp.String("switch", "Switch task name", mcp.Required()),
		),
		s.handleSwitchOff,
	)

	// switch_toggle - Toggle a switch
	s.mcpServer.RegisterTool(
		mcp.NewTool("switch_toggle", "Toggle a mapped switch",
			mcp.String("device", "Device IP address or unit name", mcp.Required()),
			mcp.String("switch", "Switch task name", mcp.Required()),
		),
		s.handleSwitchToggle,
	)

	// switch_map - Map a switch to its GPIO pin
	s.mcpServer.RegisterTool(
		mcp.NewTool("switch_map", "Map a switch task to the GPIO pin it actuates. The pin is not discoverable over the wire and must be supplied by the operator.",
			mcp.String("device", "Device IP address or unit name", mcp.Required()),
			mcp.String("switch", "Switch task name", mcp.Required()),
			mcp.String("gpio", "GPIO pin number", mcp.Required()),
		),
		s.handleSwitchMap,
	)

	// Direct control tools

	// device_event - Fire a rule event
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_event", "Fire a rule event on a device",
			mcp.String("device", "Device IP address or unit name", mcp.Required()),
			mcp.String("event", "Event name as configured in the device rules", mcp.Required()),
		),
		s.handleEvent,
	)

	// device_command - Send a raw control command
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_command", "Send a raw control command to a device (e.g. GPIO,12,1)",
			mcp.String("device", "Device IP address or unit name", mcp.Required()),
			mcp.String("cmd", "Command string", mcp.Required()),
		),
		s.handleCommand,
	)

	// sensor_read - Fetch current sensor readings
	s.mcpServer.RegisterTool(
		mcp.NewTool("sensor_read", "Fetch the current sensor readings from a device",
			mcp.String("device", "Device IP address or unit name", mcp.Required()),
		),
		s.handleSensorRead,
	)
}

// HandleRequest handles MCP HTTP requests with optional bearer token authentication
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	log.Debug("MCP request received", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

	// Check bearer token if configured
	if s.tokenHash != "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			log.Warn("MCP request missing Authorization header", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			log.Warn("MCP request invalid Authorization format", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid Authorization format", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if bcrypt.CompareHashAndPassword([]byte(s.tokenHash), []byte(token)) != nil {
			log.Warn("MCP request invalid token", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
	}

	s.mcpServer.HandleRequest(w, r)
}

// Registry tool handlers

func (s *Server) handleDeviceList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	devices := s.registry.List()
	log.Debug("MCP device list request", "count", len(devices))

	if len(devices) == 0 {
		return mcp.NewToolResponseText("No devices registered"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d devices:\n\n", len(devices)))
	for _, rec := range devices {
		result.WriteString(s.formatDeviceSummary(rec))
		result.WriteString("\n")
	}

	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleDeviceGet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	key, err := req.String("device")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("device is required: " + err.Error())
	}

	log.Debug("MCP device get request", "device", key)
	rec, err := s.registry.Get(key)
	if err != nil {
		log.Warn("MCP device get failed", "error", err, "device", key)
		return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
	}

	return mcp.NewToolResponseText(s.formatDeviceSummary(rec)), nil
}

func (s *Server) handleDeviceAdd(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	address, err := req.String("address")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("address is required: " + err.Error())
	}

	log.Debug("MCP device add request", "address", address)
	state, err := s.transport.FetchState(ctx, address)
	if err != nil {
		log.Warn("MCP device add - probe failed", "error", err, "address", address)
		return nil, mcp.NewToolErrorInternal("device unreachable: " + err.Error())
	}

	rec, err := s.registry.Add(address, state)
	if err != nil {
		log.Warn("MCP device add failed", "error", err, "address", address)
		return nil, mcp.NewToolErrorInternal("failed to add device: " + err.Error())
	}

	if s.settings != nil {
		if err := s.settings.Reconcile(s.registry, address); err != nil {
			log.Warn("MCP device add - settings reconcile failed", "error", err, "address", address)
		} else if fresh, err := s.registry.Get(address); err == nil {
			rec = fresh
		}
	}

	log.Info("MCP device added", "address", address, "name", rec.Name)
	return mcp.NewToolResponseText(fmt.Sprintf("Device added: %s at %s\n\n%s", rec.Name, rec.Address, s.formatDeviceSummary(rec))), nil
}

func (s *Server) handleDeviceRemove(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	address, err := req.String("address")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("address is required: " + err.Error())
	}

	log.Debug("MCP device remove request", "address", address)
	if _, err := s.registry.Remove(address); err != nil {
		log.Warn("MCP device remove failed", "error", err, "address", address)
		return nil, mcp.NewToolErrorInternal("failed to remove device: " + err.Error())
	}

	log.Info("MCP device removed", "address", address)
	return mcp.NewToolResponseText("Device removed: " + address), nil
}

func (s *Server) handleScan(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	network, _ := req.String("network")
	if network == "" && s.settings != nil {
		network = s.settings.Network()
	}
	if network == "" {
		return nil, mcp.NewToolErrorInvalidParams("network is required (no default configured)")
	}

	log.Info("MCP scan requested", "network", network)
	report, err := s.scanner.ScanNetwork(ctx, network)
	if err != nil {
		log.Error("MCP scan failed", "error", err, "network", network)
		return nil, mcp.NewToolErrorInternal("scan failed: " + err.Error())
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Scanned %s: probed %d addresses, found %d devices, added %d, skipped %d (took %s)\n",
		report.Network, report.Probed, report.Found, report.Added, report.Skipped, report.Duration().Round(10*time.Millisecond)))
	for _, host := range report.Hosts {
		result.WriteString(fmt.Sprintf("  - %s (%s): %s\n", host.Address, host.Name, host.Outcome))
	}

	return mcp.NewToolResponseText(result.String()), nil
}

// Switch tool handlers

func (s *Server) handleSwitchOn(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	return s.actuateSwitch(ctx, req, "on")
}

func (s *Server) handleSwitchOff(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	return s.actuateSwitch(ctx, req, "off")
}

func (s *Server) handleSwitchToggle(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	return s.actuateSwitch(ctx, req, "toggle")
}

func (s *Server) actuateSwitch(ctx context.Context, req *mcp.ToolRequest, action string) (*mcp.ToolResponse, error) {
	key, err := req.String("device")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("device is required: " + err.Error())
	}
	name, err := req.String("switch")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("switch is required: " + err.Error())
	}

	log.Debug("MCP switch action request", "device", key, "switch", name, "action", action)
	rec, err := s.registry.Get(key)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
	}
	pin, err := rec.SwitchGpio(name)
	if err != nil {
		return nil, mcp.NewToolErrorInternal(err.Error())
	}

	var state int
	switch action {
	case "on":
		state, err = s.transport.SwitchGpio(ctx, rec.Address, pin, true)
	case "off":
		state, err = s.transport.SwitchGpio(ctx, rec.Address, pin, false)
	default:
		state, err = s.transport.ToggleGpio(ctx, rec.Address, pin)
	}
	if err != nil {
		log.Error("MCP switch action failed", "error", err, "device", rec.Address, "switch", name, "action", action)
		return nil, mcp.NewToolErrorInternal("switch command failed: " + err.Error())
	}

	log.Info("MCP switch actuated", "device", rec.Address, "switch", name, "action", action, "state", state)
	return mcp.NewToolResponseText(fmt.Sprintf("Switch %s on %s (GPIO %d) is now %d", name, rec.Name, pin, state)), nil
}

func (s *Server) handleSwitchMap(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	key, err := req.String("device")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("device is required: " + err.Error())
	}
	name, err := req.String("switch")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("switch is required: " + err.Error())
	}
	gpioStr, err := req.String("gpio")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("gpio is required: " + err.Error())
	}
	pin, err := strconv.Atoi(gpioStr)
	if err != nil || pin < 0 {
		return nil, mcp.NewToolErrorInvalidParams("gpio must be a non-negative pin number")
	}

	log.Debug("MCP switch map request", "device", key, "switch", name, "gpio", pin)
	rec, err := s.registry.MapSwitchGpio(key, name, pin)
	if err != nil {
		log.Warn("MCP switch map failed", "error", err, "device", key, "switch", name)
		return nil, mcp.NewToolErrorInternal("failed to map switch: " + err.Error())
	}

	if s.settings != nil {
		s.settings.Update(rec)
		if err := s.settings.Save(); err != nil {
			log.Error("MCP switch map - settings save failed", "error", err, "address", rec.Address)
		}
	}

	log.Info("MCP switch mapped", "device", rec.Address, "switch", name, "gpio", pin)
	return mcp.NewToolResponseText(fmt.Sprintf("Switch %s on %s mapped to GPIO %d", name, rec.Name, pin)), nil
}

// Direct control tool handlers

func (s *Server) handleEvent(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	key, err := req.String("device")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("device is required: " + err.Error())
	}
	event, err := req.String("event")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("event is required: " + err.Error())
	}

	rec, err := s.registry.Get(key)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
	}

	log.Debug("MCP event request", "device", rec.Address, "event", event)
	if err := s.transport.Event(ctx, rec.Address, event); err != nil {
		log.Error("MCP event failed", "error", err, "device", rec.Address, "event", event)
		return nil, mcp.NewToolErrorInternal("event failed: " + err.Error())
	}

	log.Info("MCP event fired", "device", rec.Address, "event", event)
	return mcp.NewToolResponseText(fmt.Sprintf("Event %s sent to %s", event, rec.Name)), nil
}

func (s *Server) handleCommand(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	key, err := req.String("device")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("device is required: " + err.Error())
	}
	cmd, err := req.String("cmd")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("cmd is required: " + err.Error())
	}

	rec, err := s.registry.Get(key)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
	}

	log.Debug("MCP command request", "device", rec.Address, "cmd", cmd)
	result, err := s.transport.Command(ctx, rec.Address, cmd)
	if err != nil {
		log.Error("MCP command failed", "error", err, "device", rec.Address, "cmd", cmd)
		return nil, mcp.NewToolErrorInternal("command failed: " + err.Error())
	}

	log.Info("MCP command sent", "device", rec.Address, "cmd", cmd)
	if result.Raw == "" {
		return mcp.NewToolResponseText(fmt.Sprintf("Command %q sent to %s (no reply body)", cmd, rec.Name)), nil
	}
	return mcp.NewToolResponseText(fmt.Sprintf("Command %q sent to %s, reply:\n%s", cmd, rec.Name, result.Raw)), nil
}

func (s *Server) handleSensorRead(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	key, err := req.String("device")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("device is required: " + err.Error())
	}

	rec, err := s.registry.Get(key)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
	}

	log.Debug("MCP sensor read request", "device", rec.Address)
	state, err := s.transport.FetchState(ctx, rec.Address)
	if err != nil {
		log.Warn("MCP sensor read - probe failed", "error", err, "device", rec.Address)
		return nil, mcp.NewToolErrorInternal("device unreachable: " + err.Error())
	}
	fresh, err := s.registry.Add(rec.Address, state)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to refresh device: " + err.Error())
	}

	readings := fresh.Readings()
	if len(readings) == 0 {
		return mcp.NewToolResponseText(fmt.Sprintf("No sensor readings reported by %s", fresh.Name)), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Readings from %s (%s):\n\n", fresh.Name, fresh.Address))
	for _, r := range readings {
		result.WriteString(fmt.Sprintf("  %s/%s: %.*f\n", r.Task, r.Name, r.Decimals, r.Value))
	}

	return mcp.NewToolResponseText(result.String()), nil
}

// Utility functions

func (s *Server) formatDeviceSummary(rec *model.DeviceRecord) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Name: %s\n", rec.Name))
	result.WriteString(fmt.Sprintf("Address: %s\n", rec.Address))
	caps := rec.Capabilities.List()
	if len(caps) > 0 {
		names := make([]string, len(caps))
		for i, c := range caps {
			names[i] = string(c)
		}
		result.WriteString(fmt.Sprintf("Capabilities: %s\n", strings.Join(names, ", ")))
	}
	if len(rec.Switches) > 0 {
		result.WriteString("Switches:\n")
		names := make([]string, 0, len(rec.Switches))
		for name := range rec.Switches {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if pin := rec.Switches[name].Gpio; pin != nil {
				result.WriteString(fmt.Sprintf("  - %s (GPIO %d)\n", name, *pin))
			} else {
				result.WriteString(fmt.Sprintf("  - %s (no GPIO mapped)\n", name))
			}
		}
	}
	return result.String()
}

// GetHTTPHandler returns the HTTP handler for the MCP server
func (s *Server) GetHTTPHandler() http.HandlerFunc {
	return s.HandleRequest
}

// LogStartup logs MCP server startup information
func (s *Server) LogStartup() {
	log.Info("MCP server initialized", "version", "1.0.0")
	if s.tokenHash != "" {
		log.Info("MCP authentication enabled", "type", "Bearer token")
	} else {
		log.Info("MCP authentication disabled")
	}
	tools := s.mcpServer.ListTools()
	log.Info("MCP tools registered", "count", len(tools))
	for _, tool := range tools {
		log.Debug("MCP tool registered", "name", tool.Name, "description", tool.Description)
	}
}
