// Package shell multiplexes interactive SSH sessions over the same
// Comet<->Agent WebSocket link the exec/kill traffic uses, rather than
// opening a second TCP connection per session (§4.G).
package shell

import (
	"io"
	"net"
	"time"
)

// pipeConn adapts a pair of byte streams fed by ssh_data frames into a
// net.Conn so the stdlib ssh.ServerConn/ssh.Client handshake machinery
// (which only speaks net.Conn) can run directly over the link.
type pipeConn struct {
	r *io.PipeReader
	w *io.PipeWriter

	localAddr, remoteAddr net.Addr
}

// newPipeConn returns a connected pair: writes to side A surface as reads
// on side B and vice versa.
func newPipeConn() (a, b *pipeConn) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	addr := fakeAddr("comet-link")
	a = &pipeConn{r: ar, w: aw, localAddr: addr, remoteAddr: addr}
	b = &pipeConn{r: br, w: bw, localAddr: addr, remoteAddr: addr}
	return a, b
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c *pipeConn) Close() error {
	c.r.Close()
	return c.w.Close()
}
func (c *pipeConn) LocalAddr() net.Addr               { return c.localAddr }
func (c *pipeConn) RemoteAddr() net.Addr              { return c.remoteAddr }
func (c *pipeConn) SetDeadline(t time.Time) error     { return nil }
func (c *pipeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *pipeConn) SetWriteDeadline(t time.Time) error { return nil }

type fakeAddr string

func (a fakeAddr) Network() string { return "comet-link" }
func (a fakeAddr) String() string  { return string(a) }
