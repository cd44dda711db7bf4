//go:build windows

package client

import (
	"context"
	"time"

	"golang.org/x/sys/windows"
)

// kbhitPollInterval mirrors wsterm/client.py's "await asyncio.sleep(0.005)" spin
// between msvcrt.kbhit() checks on a legacy Windows console.
const kbhitPollInterval = 5 * time.Millisecond

// RunInput polls the console for keystrokes the way msvcrt.kbhit/getch does
// in the original client, translating extended keys (0xE0 prefix) to the
// CSI sequences LineEditor and the remote shell both expect, and remapping
// Ctrl+] to Ctrl+C since Windows consoles don't deliver Ctrl+C as input once
// a process has a console control handler installed. Grounded on
// wsterm/client.py's Windows branch of create_shell.
func (c *Client) RunInput(ctx context.Context, fd int, lineMode bool) error {
	handle := windows.Handle(fd)

	var editor *LineEditor
	if lineMode {
		editor = NewLineEditor(stdoutWriter{}, []byte("\x08"))
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		hit, err := kbhit(handle)
		if err != nil {
			return err
		}
		if !hit {
			time.Sleep(kbhitPollInterval)
			continue
		}

		key, err := getch(handle)
		if err != nil {
			return err
		}

		if key[0] == 0xe0 {
			extended, err := getch(handle)
			if err != nil {
				return err
			}
			key = translateExtendedKey(extended[0])
		} else if key[0] == 0x1d {
			key = []byte{0x03}
		}

		if editor != nil {
			line, err := editor.Input(key)
			if err == ErrInterrupt {
				if writeErr := c.WriteStdin(ctx, []byte{0x03}); writeErr != nil {
					return writeErr
				}
				continue
			} else if err != nil {
				return err
			}
			if line == nil {
				continue
			}
			key = line
		}

		if err := c.WriteStdin(ctx, key); err != nil {
			return err
		}
	}
}

// translateExtendedKey maps the second byte of an 0xE0-prefixed extended key
// to the CSI cursor-key sequence the shell and LineEditor expect.
func translateExtendedKey(b byte) []byte {
	switch b {
	case 'H':
		return []byte("\x1b[A")
	case 'P':
		return []byte("\x1b[B")
	case 'K':
		return []byte("\x1b[D")
	case 'M':
		return []byte("\x1b[C")
	default:
		return []byte{0xe0, b}
	}
}

type stdoutWriter struct{}

func (stdoutWriter) Write(p []byte) (int, error) {
	handle, err := windows.GetStdHandle(windows.STD_OUTPUT_HANDLE)
	if err != nil {
		return 0, err
	}
	var written uint32
	if err := windows.WriteFile(handle, p, &written, nil); err != nil {
		return int(written), err
	}
	return int(written), nil
}

func kbhit(handle windows.Handle) (bool, error) {
	var count uint32
	if err := windows.GetNumberOfConsoleInputEvents(handle, &count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func getch(handle windows.Handle) ([]byte, error) {
	var buffer [1]byte
	var read uint32
	if err := windows.ReadFile(handle, buffer[:], &read, nil); err != nil {
		return nil, err
	}
	return buffer[:read], nil
}
