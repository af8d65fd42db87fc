package process

import "io"

const (
	defaultPTYCols = 120
	defaultPTYRows = 40
)

// PtyHandle abstracts a pseudo-terminal master across Unix and Windows.
type PtyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}
