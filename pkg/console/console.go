// Package console adapts host streams to the machine's character I/O
// contract: byte-at-a-time output with prompt-safe flushing, and
// line-buffered input delivered one full line at a time.
package console

import (
	"bufio"
	"io"

	"github.com/fortiblox/synacor-vm/pkg/vm"
)

// Console is a line-disciplined terminal over a reader/writer pair.
type Console struct {
	in  *bufio.Reader
	out *bufio.Writer
}

var _ vm.Terminal = (*Console)(nil)

// New creates a console over the given streams. The CLI wires stdin
// and stdout here; tests wire buffers.
func New(r io.Reader, w io.Writer) *Console {
	return &Console{
		in:  bufio.NewReader(r),
		out: bufio.NewWriter(w),
	}
}

// WriteChar emits one output character. Output is buffered; a newline
// flushes so interactive sessions see whole lines promptly.
func (c *Console) WriteChar(b byte) error {
	if err := c.out.WriteByte(b); err != nil {
		return err
	}
	if b == '\n' {
		return c.out.Flush()
	}
	return nil
}

// ReadLine blocks until one full input line, including its trailing
// newline, is available. Buffered output is flushed first so a pending
// prompt is visible before the read blocks. A final unterminated line
// is delivered as-is; the call after it reports io.EOF.
func (c *Console) ReadLine() ([]byte, error) {
	if err := c.out.Flush(); err != nil {
		return nil, err
	}

	line, err := c.in.ReadBytes('\n')
	if len(line) > 0 {
		return line, nil
	}
	return nil, err
}

// Flush forces out any buffered output. The runner calls this on
// shutdown so a final partial line is not lost.
func (c *Console) Flush() error {
	return c.out.Flush()
}
