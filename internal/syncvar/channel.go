package syncvar

import (
	"errors"
	"fmt"
)

// Channel groups elements that share a delivery cadence and reliability.
type Channel struct {
	ID           uint8
	Name         string
	ReliableOnly bool
	SendInterval uint32 // ticks between transmissions of one element
}

// MaxChannels is the uint8 index range of channel ids.
const MaxChannels = 256

var ErrChannelCapacity = errors.New("channel table full")

// Channels is the fixed channel table shared by server and clients.
type Channels struct {
	list []Channel
}

// NewChannels builds a table; defs are assigned ids in order. Channel 0 is
// the default for lifecycle states.
func NewChannels(defs ...Channel) (*Channels, error) {
	if len(defs) == 0 {
		defs = []Channel{{Name: "default", SendInterval: 1}}
	}
	if len(defs) > MaxChannels {
		return nil, fmt.Errorf("%w: %d channels", ErrChannelCapacity, len(defs))
	}
	c := &Channels{list: make([]Channel, len(defs))}
	for i, d := range defs {
		d.ID = uint8(i)
		c.list[i] = d
	}
	return c, nil
}

// Get returns channel id, falling back to channel 0 for unknown ids.
func (c *Channels) Get(id uint8) (Channel, bool) {
	if int(id) >= len(c.list) {
		return c.list[0], false
	}
	return c.list[id], true
}

// Len returns the number of channels.
func (c *Channels) Len() int { return len(c.list) }

// All returns the table in id order.
func (c *Channels) All() []Channel { return c.list }
