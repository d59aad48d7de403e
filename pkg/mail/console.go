package mail

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// ConsoleSender prints messages instead of sending them.
type ConsoleSender struct {
	mu   sync.Mutex
	w    io.Writer
	from string
}

// NewConsoleSender writes to w, or stdout when w is nil.
func NewConsoleSender(w io.Writer, from string) *ConsoleSender {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleSender{w: w, from: from}
}

func (c *ConsoleSender) Send(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "From: %s\nTo: %s\nSubject: %s\n\n%s\n%s\n",
		c.from, msg.To, msg.Subject, msg.Body, "-------------------------------------------------------------------------------")
	return err
}
