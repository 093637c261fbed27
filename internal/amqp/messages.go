package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// TxnSyncMessage asks the worker to push one recorded transaction to the
// remote ledger. It carries only the id and version; the worker loads the
// full row from the outbox.
type TxnSyncMessage struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTxnSyncMessage(id string, version int64) *TxnSyncMessage {
	return &TxnSyncMessage{
		ID:        id,
		Version:   version,
		Timestamp: time.Now().UTC(),
	}
}

func (m *TxnSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TxnSyncMessageFromJSON(data []byte) (*TxnSyncMessage, error) {
	var m TxnSyncMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal sync message: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("sync message missing id")
	}
	return &m, nil
}
