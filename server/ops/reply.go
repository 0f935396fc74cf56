package ops

import (
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

const (
	RplMap          = "006"
	RplEndMap       = "007"
	RplMapUsers     = "270"
	ErrNoSuchServer = "402"
	ErrUnknownCmd   = "421"
)

var ErrUnknownCommand = errors.New("unknown command", j.C("ERR_6f1d2b8a94c37e05"))

// Command is a parsed topology query line.
type Command struct {
	Name   string
	Target string
}

// ParseCommand reads "TOPOLOGY [mask]", also accepted as "MAP [mask]".
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return Command{}, errors.Wrap(ErrUnknownCommand, "empty line")
	}
	name := strings.ToUpper(fields[0])
	switch name {
	case "TOPOLOGY", "MAP":
	default:
		return Command{}, errors.Wrap(ErrUnknownCommand, "", j.KV("command", name))
	}
	c := Command{Name: name}
	if len(fields) > 1 {
		c.Target = strings.TrimPrefix(fields[1], ":")
	}
	return c, nil
}

func numeric(server, num, nick, text string) string {
	return ":" + server + " " + num + " " + nick + " :" + text
}

func noSuchServer(server, nick, mask string) string {
	return ":" + server + " " + ErrNoSuchServer + " " + nick + " " + mask + " :No such server"
}

// IsFinal reports whether line ends the reply to a topology query.
func IsFinal(line string) bool {
	f := strings.Fields(line)
	if len(f) < 2 {
		return false
	}
	switch f[1] {
	case RplEndMap, ErrNoSuchServer, ErrUnknownCmd:
		return true
	}
	return false
}
