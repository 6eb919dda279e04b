package eventloop

import (
	"bufio"
	"io"
)

// NewLineScanner reads newline-terminated lines from r on a dedicated
// goroutine and returns a channel of completed lines, closed when r
// returns an error (including io.EOF). This is the TTY-reading half of
// spec.md §4.9 step 6; the loop's Run method is the input parser/dispatch
// half.
func NewLineScanner(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 4096), 1<<20)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}
