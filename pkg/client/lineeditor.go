package client

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// ErrInterrupt is returned by LineEditor.Input when the user presses
// Ctrl+C; the caller propagates it as a signal the way the original client
// raises KeyboardInterrupt.
var ErrInterrupt = errors.New("interrupt")

// LineEditor is the small cooked-mode input state machine spec.md §9
// describes for the "line mode" a server can request (the legacy Windows
// console fallback, which needs a whole line of input at once rather than a
// raw byte stream). It owns local echo: every call writes whatever redraw
// is needed to keep the terminal in sync with its internal buffer.
type LineEditor struct {
	writer    io.Writer
	backspace []byte

	buffer     []byte
	prevBuffer []byte
	cursor     int
	prevCursor int

	history      [][]byte
	historyIndex int
}

// NewLineEditor creates a LineEditor that echoes to writer, using backspace
// as the byte sequence that moves the cursor left one column (POSIX:
// "\x1b[D", Windows console: "\x08").
func NewLineEditor(writer io.Writer, backspace []byte) *LineEditor {
	return &LineEditor{writer: writer, backspace: backspace}
}

// Input feeds one logical keystroke (a single byte, or a short escape
// sequence like "\x1b[D" already assembled by the caller's CSI parser) into
// the editor. It returns a committed line (including the trailing "\r\n")
// when Enter is pressed, and ErrInterrupt when Ctrl+C is pressed.
func (e *LineEditor) Input(char []byte) ([]byte, error) {
	switch {
	case isCursorLeft(char):
		if e.cursor > 0 {
			e.cursor--
		}
	case isCursorRight(char):
		if e.cursor < len(e.buffer) {
			e.cursor++
		}
	case isCursorUp(char):
		return nil, e.recallHistory(-1)
	case isCursorDown(char):
		return nil, e.recallHistory(1)
	case len(char) == 1 && (char[0] == 0x08 || char[0] == 0x7f):
		if e.cursor > 0 {
			e.buffer = append(e.buffer[:e.cursor-1], e.buffer[e.cursor:]...)
			e.cursor--
		}
	case len(char) == 1 && (char[0] == '\r' || char[0] == '\n'):
		return e.commit(), nil
	case len(char) == 1 && char[0] == 0x03:
		return nil, ErrInterrupt
	default:
		e.buffer = append(e.buffer[:e.cursor], append(append([]byte{}, char...), e.buffer[e.cursor:]...)...)
		e.cursor += len(char)
	}

	e.redraw()
	return nil, nil
}

func isCursorLeft(c []byte) bool  { return bytes.Equal(c, []byte("\x1bOD")) || bytes.Equal(c, []byte("\x1b[D")) }
func isCursorRight(c []byte) bool { return bytes.Equal(c, []byte("\x1bOC")) || bytes.Equal(c, []byte("\x1b[C")) }
func isCursorUp(c []byte) bool    { return bytes.Equal(c, []byte("\x1bOA")) || bytes.Equal(c, []byte("\x1b[A")) }
func isCursorDown(c []byte) bool  { return bytes.Equal(c, []byte("\x1bOB")) || bytes.Equal(c, []byte("\x1b[B")) }

// recallHistory moves the history cursor by direction (-1 for older, +1 for
// newer) and redraws the buffer from the recalled entry, mirroring the
// original's negative-indexed history list: historyIndex ranges over
// [-len(history), -1] once any entry has been recalled, with 0 meaning
// "nothing recalled yet".
func (e *LineEditor) recallHistory(direction int) error {
	if direction < 0 {
		if abs(e.historyIndex) >= len(e.history) {
			return nil
		}
		e.historyIndex--
	} else {
		if e.historyIndex >= -1 {
			return nil
		}
		e.historyIndex++
	}

	e.clearBuffer(e.prevCursor)
	entry := e.history[len(e.history)+e.historyIndex]
	e.writer.Write(entry)

	e.buffer = append([]byte{}, entry...)
	e.prevBuffer = append([]byte{}, entry...)
	e.cursor = len(entry)
	e.prevCursor = len(entry)
	return nil
}

// commit finalizes the current buffer as a submitted line, appends it to
// history (unless empty), resets the buffer, and returns the line with its
// trailing "\r\n".
func (e *LineEditor) commit() []byte {
	if len(e.buffer) > 0 {
		e.history = append(e.history, append([]byte{}, e.buffer...))
		e.historyIndex = 0
	}

	line := append(append([]byte{}, e.buffer...), '\r', '\n')
	e.buffer = nil
	e.cursor = 0

	if e.prevCursor > 0 {
		e.writer.Write(bytes.Repeat(e.backspace, e.prevCursor))
		e.prevBuffer = nil
		e.prevCursor = 0
	}

	return line
}

func (e *LineEditor) clearBuffer(size int) {
	if size == 0 {
		return
	}
	e.writer.Write(bytes.Repeat(e.backspace, size))
	e.writer.Write(bytes.Repeat([]byte(" "), size))
	e.writer.Write(bytes.Repeat(e.backspace, size))
}

// redraw reprints the buffer after an edit: erase back to the start of the
// previous buffer, reprint the current one, pad with spaces to erase any
// trailing characters left over from a shrink, then reposition the cursor.
func (e *LineEditor) redraw() {
	if e.prevCursor > 0 {
		e.writer.Write(bytes.Repeat(e.backspace, e.prevCursor))
	}

	e.writer.Write(e.buffer)

	if len(e.buffer) < len(e.prevBuffer) {
		shrink := len(e.prevBuffer) - len(e.buffer)
		e.writer.Write(bytes.Repeat([]byte(" "), shrink))
		e.writer.Write(bytes.Repeat(e.backspace, shrink))
	}

	if e.cursor < len(e.buffer) {
		e.writer.Write(bytes.Repeat(e.backspace, len(e.buffer)-e.cursor))
	}

	e.prevBuffer = append([]byte{}, e.buffer...)
	e.prevCursor = e.cursor
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
