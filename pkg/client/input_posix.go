//go:build !windows

package client

import (
	"context"
	"io"
	"os"

	"golang.org/x/term"
)

// RunInput puts fd into raw mode and forwards every keystroke read from it
// to the client as a write-stdin request, translating a bare "\n" to "\r"
// the way a POSIX terminal's canonical mode would (spec.md §4.7; grounded on
// wsterm/client.py's StdIn reader, which adds a loop.add_reader callback
// firing on every single byte). It blocks until ctx is cancelled or reading
// fd fails.
func (c *Client) RunInput(ctx context.Context, fd int, lineMode bool) error {
	previous, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, previous)

	file := os.NewFile(uintptr(fd), "stdin")
	if lineMode {
		return c.runLineModeInput(ctx, file, file)
	}
	return c.runRawInput(ctx, file)
}

// runRawInput is the default path: every byte read is forwarded immediately.
func (c *Client) runRawInput(ctx context.Context, reader io.Reader) error {
	buffer := make([]byte, 1)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := reader.Read(buffer)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		char := buffer[0]
		if char == '\n' {
			char = '\r'
		}
		if err := c.WriteStdin(ctx, []byte{char}); err != nil {
			return err
		}
	}
}

// runLineModeInput drives a LineEditor over raw CSI-assembled keystrokes,
// only forwarding committed lines, for servers that report line_mode (the
// legacy Windows console fallback).
func (c *Client) runLineModeInput(ctx context.Context, reader io.Reader, writer io.Writer) error {
	editor := NewLineEditor(writer, []byte("\x1b[D"))
	buffer := make([]byte, 1)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		key, err := readKeystroke(reader, buffer)
		if err != nil {
			return err
		}

		line, err := editor.Input(key)
		if err == ErrInterrupt {
			if err := c.WriteStdin(ctx, []byte{0x03}); err != nil {
				return err
			}
			continue
		} else if err != nil {
			return err
		}
		if line != nil {
			if err := c.WriteStdin(ctx, line); err != nil {
				return err
			}
		}
	}
}

// readKeystroke reads a single byte, expanding it into a full CSI sequence
// ("\x1b[A" and friends) when it's the start of one so LineEditor sees whole
// cursor-key tokens rather than their individual bytes.
func readKeystroke(reader io.Reader, scratch []byte) ([]byte, error) {
	if _, err := reader.Read(scratch[:1]); err != nil {
		return nil, err
	}
	if scratch[0] != 0x1b {
		return append([]byte{}, scratch[0]), nil
	}

	rest := make([]byte, 2)
	if _, err := io.ReadFull(reader, rest); err != nil {
		return nil, err
	}
	return append([]byte{0x1b}, rest...), nil
}
