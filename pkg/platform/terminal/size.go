package terminal

import (
	"golang.org/x/term"
)

// Size represents a terminal size in columns and rows, matching the
// [cols, rows] ordering used throughout the wire protocol.
type Size struct {
	Columns int
	Rows    int
}

// Equal reports whether two sizes describe the same dimensions.
func (s Size) Equal(other Size) bool {
	return s.Columns == other.Columns && s.Rows == other.Rows
}

// QuerySize queries the dimensions of the terminal attached to the given file
// descriptor. It's used by the client to detect window-size changes on a
// cooperative 0.5 second poll (spec §4.7) since there is no portable resize
// signal across POSIX and Windows consoles.
func QuerySize(fd int) (Size, error) {
	columns, rows, err := term.GetSize(fd)
	if err != nil {
		return Size{}, err
	}
	return Size{Columns: columns, Rows: rows}, nil
}
