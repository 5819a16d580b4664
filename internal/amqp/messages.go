package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AccountSyncMessage asks a worker to synchronize one account. It carries only
// the account id and window; the worker loads everything else from storage.
type AccountSyncMessage struct {
	MessageID  string    `json:"message_id"`
	AccountID  int64     `json:"account_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewAccountSyncMessage creates a first-attempt message. Zero start and end
// leave the window to the worker's default.
func NewAccountSyncMessage(accountID int64, start, end time.Time) *AccountSyncMessage {
	return &AccountSyncMessage{
		MessageID:  uuid.NewString(),
		AccountID:  accountID,
		Start:      start,
		End:        end,
		Attempt:    1,
		EnqueuedAt: time.Now(),
	}
}

// Retry returns the follow-up message for a failed attempt. The message id is
// kept so every attempt of one request can be correlated in logs.
func (m *AccountSyncMessage) Retry() *AccountSyncMessage {
	next := *m
	next.Attempt++
	next.EnqueuedAt = time.Now()
	return &next
}

func (m *AccountSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func AccountSyncMessageFromJSON(data []byte) (*AccountSyncMessage, error) {
	var msg AccountSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.AccountID <= 0 {
		return nil, errors.New("account sync message without account id")
	}
	if msg.Attempt < 1 {
		msg.Attempt = 1
	}
	return &msg, nil
}
