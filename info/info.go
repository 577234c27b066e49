// Package info provides utility functions for constructing and picking apart
// the info lines the modem emits in response to AT commands.
package info

import (
	"fmt"
	"strings"
)

// Line builds an info line for the command, e.g. Line("+CWMODE", 1).
func Line(cmd string, value interface{}) string {
	return fmt.Sprintf("%s:%v", cmd, value)
}

// HasPrefix returns true if the line begins with the info prefix for the command.
func HasPrefix(line, cmd string) bool {
	return strings.HasPrefix(line, cmd+":")
}

// TrimPrefix removes the command prefix, if any, and any intervening space
// from the info line.
func TrimPrefix(line, cmd string) string {
	return strings.TrimLeft(strings.TrimPrefix(line, cmd+":"), " ")
}
