package client

import (
	"context"
	"time"

	"github.com/wsterm/wsterm/pkg/platform/terminal"
)

// resizePollInterval is the cooperative window-size poll period spec.md §4.7
// specifies in place of a portable resize signal.
const resizePollInterval = 500 * time.Millisecond

// WatchResize polls fd's terminal size every resizePollInterval and issues a
// ResizeShell request whenever it changes, until ctx is cancelled. It's
// meant to run in its own goroutine alongside the shell's I/O pump.
func (c *Client) WatchResize(ctx context.Context, fd int) {
	ticker := time.NewTicker(resizePollInterval)
	defer ticker.Stop()

	var last terminal.Size
	if size, err := terminal.QuerySize(fd); err == nil {
		last = size
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size, err := terminal.QuerySize(fd)
			if err != nil || size.Equal(last) {
				continue
			}
			last = size
			if err := c.ResizeShell(ctx, Size{Columns: size.Columns, Rows: size.Rows}); err != nil {
				c.logger.Warn(err)
			}
		}
	}
}
