/*
Package event contains the wire types of the notification frames sent to
websocket subscribers along with the reserved channel names and control
tokens of the subscription protocol.
*/
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Name is the event discriminator carried in the "eventname" field of every
// frame.
type Name string

// Event names.
const (
	BlockEventName     Name = "block"
	TxEventName        Name = "tx"
	AddressTxEventName Name = "addresstx"
)

// Reserved channel names. Any other channel is a per-address one named by
// the address itself.
const (
	BlocksChannel = "BlocksChannel"
	TxsChannel    = "TxsChannel"
)

// Control frames clients send to the server, matched case-sensitively.
const (
	CloseToken             = "ServerClose"
	AbortToken             = "ServerAbort"
	SubscribeToBlocksToken = "SubscribeToBlocks"
	SubscribeToTxsToken    = "SubscribeToTxs"
)

// ErrNoEventName is returned for frames missing the discriminator.
var ErrNoEventName = errors.New("no event name")

type (
	// Header is the part common to every frame.
	Header struct {
		EventName Name `json:"eventname"`
	}

	// Block is sent to BlocksChannel subscribers once a block is mined.
	Block struct {
		EventName Name   `json:"eventname"`
		Hash      string `json:"hash"`
		Height    uint32 `json:"height"`
		Time      int64  `json:"time"`
		Size      int    `json:"size"`
		TxCount   int    `json:"txcount"`
		PoolName  string `json:"poolname,omitempty"`

		raw []byte
	}

	// Transaction is sent to TxsChannel subscribers once a transaction is
	// seen. ValueOut is the sum of outputs in satoshis.
	Transaction struct {
		EventName Name     `json:"eventname"`
		TxID      string   `json:"txid"`
		ValueOut  int64    `json:"valueout"`
		Addresses []string `json:"addresses"`

		raw []byte
	}

	// AddressTransaction is a Transaction projection sent to a single
	// address channel.
	AddressTransaction struct {
		EventName Name   `json:"eventname"`
		Address   string `json:"address"`
		TxID      string `json:"txid"`
		ValueOut  int64  `json:"valueout"`
	}
)

// ParseName returns the event name of the given frame.
func ParseName(data []byte) (Name, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return "", fmt.Errorf("malformed frame: %w", err)
	}
	if h.EventName == "" {
		return "", ErrNoEventName
	}
	return h.EventName, nil
}

// IsReservedChannel checks whether the channel is one of the global ones.
func IsReservedChannel(ch string) bool {
	return ch == BlocksChannel || ch == TxsChannel
}

// ParseBlock decodes a block frame. The frame itself is retained and
// returned by Bytes as is, so fields Block doesn't know about are kept.
func ParseBlock(data []byte) (*Block, error) {
	b := new(Block)
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("malformed block: %w", err)
	}
	if b.EventName != BlockEventName {
		return nil, fmt.Errorf("unexpected event %q", b.EventName)
	}
	b.raw = slices.Clone(data)
	return b, nil
}

// ParseTransaction decodes a transaction frame retaining it the same way
// ParseBlock does.
func ParseTransaction(data []byte) (*Transaction, error) {
	t := new(Transaction)
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("malformed transaction: %w", err)
	}
	if t.EventName != TxEventName {
		return nil, fmt.Errorf("unexpected event %q", t.EventName)
	}
	t.raw = slices.Clone(data)
	return t, nil
}

// Bytes returns the frame for b with the event name set. Blocks obtained
// from ParseBlock return the original frame.
func (b *Block) Bytes() ([]byte, error) {
	if b.raw != nil {
		return b.raw, nil
	}
	b.EventName = BlockEventName
	return json.Marshal(b)
}

// Bytes returns the frame for t with the event name set. Transactions
// obtained from ParseTransaction return the original frame.
func (t *Transaction) Bytes() ([]byte, error) {
	if t.raw != nil {
		return t.raw, nil
	}
	t.EventName = TxEventName
	return json.Marshal(t)
}

// AddressEvents returns one AddressTransaction per distinct non-empty
// address of t, in the order of first appearance.
func (t *Transaction) AddressEvents() []AddressTransaction {
	var (
		res  = make([]AddressTransaction, 0, len(t.Addresses))
		seen = make(map[string]struct{}, len(t.Addresses))
	)
	for _, addr := range t.Addresses {
		if addr == "" {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		res = append(res, AddressTransaction{
			EventName: AddressTxEventName,
			Address:   addr,
			TxID:      t.TxID,
			ValueOut:  t.ValueOut,
		})
	}
	return res
}
