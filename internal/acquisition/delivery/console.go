package delivery

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/lightcar-iot/lightcar/internal/readings"
)

// Console writes one JSON line per reading.
type Console struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewConsole returns an output writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{enc: json.NewEncoder(w)}
}

// Name identifies the output in logs.
func (c *Console) Name() string {
	return "console"
}

// Send writes in.
func (c *Console) Send(_ context.Context, in readings.Inbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(in)
}

// Close is a no-op.
func (c *Console) Close() error {
	return nil
}
