package protocol

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"
)

// Channel frames newline-delimited protocol messages over a persistent
// stream connection. Reads buffer partial bytes until a full frame arrives;
// writes append the delimiter. A failed send means the connection is dead;
// the Channel never retries on its own.
type Channel struct {
	conn net.Conn
	r    *bufio.Reader

	// partial holds bytes of an incomplete frame surviving a read error,
	// typically a deadline timeout, so the frame is not lost when reading
	// resumes.
	partial []byte

	wmu sync.Mutex
}

func NewChannel(conn net.Conn) *Channel {
	return &Channel{conn: conn, r: bufio.NewReader(conn)}
}

// Next blocks until a complete frame is read and returns its decoded
// message. Empty frames (liveness probes) are skipped. Errors wrapping
// ErrMalformed or ErrUnknownCommand leave the connection usable; any other
// error is a transport failure and the connection should be dropped.
func (c *Channel) Next() (Message, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			c.partial = append(c.partial, line...)
			return nil, err
		}
		if len(c.partial) > 0 {
			line = append(c.partial, line...)
			c.partial = nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return Decode(line)
	}
}

// Send encodes m and writes it as one frame.
func (c *Channel) Send(m Message) error {
	b, err := m.encode()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.Write(append(b, '\n'))
	return err
}

// Probe writes a bare delimiter. Receivers discard it as an empty frame, so
// it only serves to surface a broken connection on the sender side.
func (c *Channel) Probe() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write([]byte{'\n'})
	return err
}

func (c *Channel) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Channel) Close() error {
	return c.conn.Close()
}
