package fmlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Console delivers operator-facing notices: deprecations, relocations to a
// new primary and the like. Implementations must not block.
type Console interface {
	PrintWarning(msg string)
	PrintInfo(msg string)
}

type writerConsole struct {
	mu sync.Mutex
	w  io.Writer
	hl *Logger
}

// NewConsole prints notices to w and mirrors them into the debug log.
func NewConsole(w io.Writer, hl *Logger) Console {
	if hl == nil {
		hl = NewNopLogger()
	}
	return &writerConsole{w: w, hl: hl}
}

// NewStdoutConsole is the console fleetctl talks to.
func NewStdoutConsole(hl *Logger) Console {
	return NewConsole(os.Stdout, hl)
}

func (c *writerConsole) PrintWarning(msg string) {
	c.hl.Debugf("console warning: %s", msg)
	c.println("WARNING: " + msg)
}

func (c *writerConsole) PrintInfo(msg string) {
	c.hl.Debugf("console info: %s", msg)
	c.println(msg)
}

func (c *writerConsole) println(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// write errors are swallowed: notices never affect control flow
	_, _ = fmt.Fprintln(c.w, strings.TrimSuffix(msg, "\n"))
}
