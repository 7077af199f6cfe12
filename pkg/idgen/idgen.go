// Package idgen mints the ids used on the websocket: connection ids and the
// request ids that correlate a media play command with its ack.
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/sonyflake"
)

// epoch is the sonyflake start time; ids stay positive for ~174 years after it
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// RequestIds mints time ordered request ids for one node
type RequestIds struct {
	sf *sonyflake.Sonyflake
}

// NewRequestIds creates a generator for nodeId. Two gateway nodes sharing a
// node id can mint the same request id.
func NewRequestIds(nodeId uint16) (*RequestIds, error) {
	sf, err := sonyflake.New(sonyflake.Settings{
		StartTime: epoch,
		MachineID: func() (uint16, error) { return nodeId, nil },
	})
	if err != nil {
		return nil, fmt.Errorf("idgen: sonyflake: %w", err)
	}
	return &RequestIds{sf: sf}, nil
}

// Next returns a new id. It falls back to a random UUID when the sonyflake
// clock is exhausted or moves backwards.
func (g *RequestIds) Next() string {
	id, err := g.sf.NextID()
	if err != nil {
		return uuid.NewString()
	}
	return strconv.FormatUint(id, 10)
}

var requestIds atomic.Pointer[RequestIds]

// Init installs the process wide generator for nodeId
func Init(nodeId uint16) error {
	g, err := NewRequestIds(nodeId)
	if err != nil {
		return err
	}
	requestIds.Store(g)
	return nil
}

// NextRequestId returns an id from the process wide generator, initialising
// it with node id 1 on first use.
func NextRequestId() string {
	g := requestIds.Load()
	if g == nil {
		fresh, err := NewRequestIds(1)
		if err != nil {
			return uuid.NewString()
		}
		requestIds.CompareAndSwap(nil, fresh)
		g = requestIds.Load()
	}
	return g.Next()
}

// NewConnId returns a random connection id
func NewConnId() string {
	return uuid.NewString()
}
