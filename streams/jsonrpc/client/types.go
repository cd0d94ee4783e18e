package client

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// clientLog mirrors events.Log but keeps the event as raw bytes.
// We decode it later using the event name.
type clientLog struct {
	Seq     uint64          `json:"seq"`
	Address common.Address  `json:"address"`
	Name    string          `json:"name"`
	Event   json.RawMessage `json:"event"`
}
