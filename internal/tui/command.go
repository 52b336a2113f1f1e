package tui

import "strings"

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

var commandAliases = map[string]string{
	"q":    "quit",
	"exit": "quit",
	"h":    "help",
	"o":    "open",
	"s":    "search",
	"a":    "admin",
	"r":    "refresh",
}

// ParseCommand parses a command string (without the leading ':') and
// resolves short aliases.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), ":"))
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if full, ok := commandAliases[cmd.Name]; ok {
		cmd.Name = full
	}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// SplitFirst splits args into the first whitespace-delimited word and the
// rest.
func SplitFirst(args string) (string, string) {
	args = strings.TrimSpace(args)
	i := strings.IndexAny(args, " \t")
	if i < 0 {
		return args, ""
	}
	return args[:i], strings.TrimSpace(args[i+1:])
}
