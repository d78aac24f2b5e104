package console

import (
	"strconv"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/acquisition"
)

// Command names accepted at the repeat prompt.
const (
	CommandGain   = "gain"
	CommandOffset = "offset"
	CommandHelp   = "help"
)

// AddControlCommands registers "gain N" and "offset N" with reg, applied to ctrl.
func AddControlCommands(reg framegrab.CommandRegistry, ctrl acquisition.Controller) {
	reg.Add(CommandGain, "N", intCommand(ctrl.SetGain))
	reg.Add(CommandOffset, "N", intCommand(ctrl.SetOffset))
}

func intCommand(set func(int) error) framegrab.CommandProcessor {
	return func(cmd *framegrab.Command) (*framegrab.CommandResponse, error) {
		if len(cmd.Args) > 1 {
			return nil, framegrab.ErrCommandMalformed
		}
		v, err := cmd.Int(0)
		if err != nil {
			return nil, err
		}
		if err := set(v); err != nil {
			return nil, err
		}
		return framegrab.NewCommandResponseText(cmd.Name + " set to " + strconv.Itoa(v)), nil
	}
}
