package framegrab

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrCommandMalformed happens when a line cannot be read as a command or its arguments
	// do not fit the command.
	ErrCommandMalformed = errors.New("malformed command")
	// ErrUnknownCommand happens when no processor is registered under a command's name.
	ErrUnknownCommand = errors.New("unknown command")
)

// A Command is a line of operator input split into a name and its arguments.
type Command struct {
	Name string
	Args []string
	Raw  string
}

// UnmarshalCommand splits a line of input on whitespace. The first field names the command.
func UnmarshalCommand(line string) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ErrCommandMalformed
	}
	return &Command{Name: strings.ToLower(fields[0]), Args: fields[1:], Raw: line}, nil
}

// Int parses argument i as an integer.
func (c *Command) Int(i int) (int, error) {
	if i >= len(c.Args) {
		return 0, errors.Wrapf(ErrCommandMalformed, "%s: missing argument %d", c.Name, i+1)
	}
	v, err := strconv.Atoi(c.Args[i])
	if err != nil {
		return 0, errors.Wrapf(ErrCommandMalformed, "%s: %q is not a number", c.Name, c.Args[i])
	}
	return v, nil
}

// A CommandProcessor carries out a command.
type CommandProcessor func(cmd *Command) (*CommandResponse, error)

// A CommandRegistry holds the commands an operator may enter.
type CommandRegistry interface {
	// Add registers processor under name; usage describes the arguments.
	Add(name, usage string, processor CommandProcessor)
	// Has returns whether a processor is registered for name.
	Has(name string) bool
	// Names returns the registered command names in order.
	Names() []string
	// Help returns one "name usage" line per command, in name order.
	Help() []string
	// Process runs the processor registered for the command's name.
	Process(cmd *Command) (*CommandResponse, error)
}

// NewCommandRegistry returns an empty registry safe for concurrent use.
func NewCommandRegistry() CommandRegistry {
	return &commandRegistry{entries: map[string]registeredCommand{}}
}

type registeredCommand struct {
	usage     string
	processor CommandProcessor
}

type commandRegistry struct {
	mu      sync.RWMutex
	entries map[string]registeredCommand
}

func (cr *commandRegistry) Add(name, usage string, processor CommandProcessor) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.entries[strings.ToLower(name)] = registeredCommand{usage, processor}
}

func (cr *commandRegistry) Has(name string) bool {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	_, ok := cr.entries[strings.ToLower(name)]
	return ok
}

func (cr *commandRegistry) Names() []string {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	names := make([]string, 0, len(cr.entries))
	for name := range cr.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (cr *commandRegistry) Help() []string {
	names := cr.Names()
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, strings.TrimSpace(name+" "+cr.entries[name].usage))
	}
	return lines
}

func (cr *commandRegistry) Process(cmd *Command) (*CommandResponse, error) {
	cr.mu.RLock()
	entry, ok := cr.entries[cmd.Name]
	cr.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrUnknownCommand, cmd.Name)
	}
	return entry.processor(cmd)
}

// A CommandResponse is what a command reports back to the operator.
type CommandResponse struct {
	text string
}

// NewCommandResponseText returns a response printed as text.
func NewCommandResponseText(text string) *CommandResponse {
	return &CommandResponse{text}
}

// Text returns the response text. A nil response has none.
func (cr *CommandResponse) Text() string {
	if cr == nil {
		return ""
	}
	return cr.text
}
