package mystrom

import (
	"context"
	"fmt"
)

// Command names accepted by the bridge and the HTTP service endpoint.
type Command string

const (
	CommandTurnOn        Command = "turn_on"
	CommandTurnOff       Command = "turn_off"
	CommandToggle        Command = "toggle"
	CommandSetRelayState Command = "set_relay_state"
	CommandToggleRelay   Command = "toggle_relay"
	CommandReboot        Command = "reboot"
	CommandRefresh       Command = "refresh"
)

// ParseCommand validates a command name.
func ParseCommand(s string) (Command, error) {
	switch c := Command(s); c {
	case CommandTurnOn, CommandTurnOff, CommandToggle, CommandSetRelayState,
		CommandToggleRelay, CommandReboot, CommandRefresh:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Resolver maps an entity id to the id of the entry that owns it.
// The device registry satisfies this via an adapter in main.go; the
// Manager also satisfies it from its in-memory table.
type Resolver interface {
	ResolveEntry(ctx context.Context, entityID string) (string, error)
}

// EntryLookup returns a set-up entry by id. *Manager satisfies it.
type EntryLookup interface {
	Get(id string) (*Entry, error)
}

// Commands is the stateless command surface. It resolves entity references
// to devices and never keeps its own device state.
type Commands struct {
	resolver Resolver
	entries  EntryLookup
	logger   Logger
}

// NewCommands creates a command façade.
func NewCommands(resolver Resolver, entries EntryLookup, logger Logger) *Commands {
	return &Commands{
		resolver: resolver,
		entries:  entries,
		logger:   loggerOrNoop(logger),
	}
}

// SetRelay switches the device owning entityID on or off.
func (c *Commands) SetRelay(ctx context.Context, entityID string, on bool) error {
	return c.Execute(ctx, entityID, CommandSetRelayState, on)
}

// ToggleRelay flips the relay of the device owning entityID.
func (c *Commands) ToggleRelay(ctx context.Context, entityID string) error {
	return c.Execute(ctx, entityID, CommandToggleRelay, false)
}

// TurnOn forces the relay on.
func (c *Commands) TurnOn(ctx context.Context, entityID string) error {
	return c.Execute(ctx, entityID, CommandTurnOn, false)
}

// TurnOff forces the relay off.
func (c *Commands) TurnOff(ctx context.Context, entityID string) error {
	return c.Execute(ctx, entityID, CommandTurnOff, false)
}

// Reboot restarts the device. No refresh follows; the device is
// unreachable while it restarts.
func (c *Commands) Reboot(ctx context.Context, entityID string) error {
	return c.Execute(ctx, entityID, CommandReboot, false)
}

// Refresh polls the device now.
func (c *Commands) Refresh(ctx context.Context, entityID string) error {
	return c.Execute(ctx, entityID, CommandRefresh, false)
}

// Execute resolves entityID and runs cmd against its device. state is only
// read by CommandSetRelayState.
//
// Returns *LookupError when entityID does not map to a set-up device; no
// network call is made in that case.
func (c *Commands) Execute(ctx context.Context, entityID string, cmd Command, state bool) error {
	entry, err := c.lookup(ctx, entityID)
	if err != nil {
		return err
	}

	if err := execute(ctx, entry, cmd, state); err != nil {
		c.logger.Warn("device command failed",
			"entity_id", entityID, "host", entry.Client.Host(), "command", cmd, "error", err)
		return err
	}

	c.logger.Debug("device command executed", "entity_id", entityID, "command", cmd)
	return nil
}

func (c *Commands) lookup(ctx context.Context, entityID string) (*Entry, error) {
	entryID, err := c.resolver.ResolveEntry(ctx, entityID)
	if err != nil {
		c.logger.Error("could not find device for entity", "entity_id", entityID, "error", err)
		return nil, &LookupError{Ref: entityID, Err: err}
	}
	entry, err := c.entries.Get(entryID)
	if err != nil {
		c.logger.Error("entity points at an entry that is not set up",
			"entity_id", entityID, "entry_id", entryID, "error", err)
		return nil, &LookupError{Ref: entityID, Err: err}
	}
	return entry, nil
}

// execute issues cmd to the device and then requests a refresh so the
// canonical status reflects the change. The refresh outcome is already
// recorded on the coordinator, so only the command error is returned.
func execute(ctx context.Context, e *Entry, cmd Command, state bool) error {
	var err error
	switch cmd {
	case CommandTurnOn:
		err = e.Client.TurnOn(ctx)
	case CommandTurnOff:
		err = e.Client.TurnOff(ctx)
	case CommandSetRelayState:
		err = e.Client.SetRelay(ctx, state)
	case CommandToggle, CommandToggleRelay:
		// The inline status some firmware returns is ignored; only the
		// refresh path writes the canonical status.
		_, err = e.Client.ToggleRelay(ctx)
	case CommandReboot:
		return e.Client.Reboot(ctx)
	case CommandRefresh:
		_, err = e.Coordinator.RequestRefresh(ctx)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	if err != nil {
		return err
	}

	e.Coordinator.RequestRefresh(ctx) //nolint:errcheck // Failure is kept as coordinator state
	return nil
}
