package session

import (
	"strings"

	"github.com/itgou/node-tftp/internal/ui"
)

// Handler executes one parsed command. A returned error is printed as a
// single line; handlers that already reported their outcome return nil.
type Handler func(args []string) error

type command struct {
	usage   string
	minArgs int
	maxArgs int
	run     Handler
}

// Dispatcher tokenizes input lines and routes them to registered
// commands. Parse failures are reported and never touch session or
// transfer state.
type Dispatcher struct {
	ui       ui.Notifier
	commands map[string]command
	names    []string
}

func NewDispatcher(notifier ui.Notifier) *Dispatcher {
	return &Dispatcher{
		ui:       notifier,
		commands: make(map[string]command),
	}
}

// Register adds a command. minArgs/maxArgs bound the positional argument
// count, usage is printed on arity errors.
func (d *Dispatcher) Register(name, usage string, minArgs, maxArgs int, run Handler) {
	d.commands[name] = command{usage: usage, minArgs: minArgs, maxArgs: maxArgs, run: run}
	d.names = append(d.names, name)
}

// Names lists registered command names in registration order, for tab
// completion.
func (d *Dispatcher) Names() []string {
	return d.names
}

// Dispatch splits line on whitespace and runs the matching command.
func (d *Dispatcher) Dispatch(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, ok := d.commands[fields[0]]
	if !ok {
		d.ui.Errorf("Invalid command")
		return
	}
	args := fields[1:]
	if len(args) < cmd.minArgs || len(args) > cmd.maxArgs {
		d.ui.Errorf("usage: %s", cmd.usage)
		return
	}
	if err := cmd.run(args); err != nil {
		d.ui.Errorf("%v", err)
	}
}
