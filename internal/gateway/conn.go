package gateway

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// conn is one authenticated gateway connection. Writes are serialized so
// concurrent pushes and error replies never interleave frames.
type conn struct {
	netConn net.Conn
	handle  string
	userID  string

	writeMu sync.Mutex
}

func (c *conn) writeFrame(frame Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("gateway: encode frame: %w", err)
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.netConn.Write(payload); err != nil {
		return fmt.Errorf("gateway: write frame: %w", err)
	}
	return nil
}
