// ABOUTME: Minimal flag parsing shared by subcommands
// ABOUTME: Accepts "--name value" and "--name=value" and collects positional arguments

package main

import (
	"fmt"
	"strings"
)

// parseArgs splits args into the named flags and positional arguments.
// aliases maps short forms such as "-n" onto their long name.
func parseArgs(args []string, names []string, aliases map[string]string) (map[string]string, []string, error) {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	flags := make(map[string]string)
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positional = append(positional, arg)
			continue
		}

		name, value, hasValue := strings.Cut(arg, "=")
		if long, ok := aliases[name]; ok {
			name = long
		}
		name = strings.TrimLeft(name, "-")
		if !known[name] {
			return nil, nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		flags[name] = value
	}
	return flags, positional, nil
}
