package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Message struct {
	Timestamp   time.Time   `json:"timestamp"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	ID          string      `json:"id"`
	MessageType string      `json:"message_type"`
	Message     interface{} `json:"message"`
}

// ToJsonMessage serializes the payload to a json string so it can be signed as is
func (message *Message) ToJsonMessage() (Message, error) {
	b, err := json.Marshal(message.Message)
	if err != nil {
		return Message{}, err
	}

	return message.Replace(string(b)), nil
}

func (message *Message) Replace(v interface{}) Message {
	return Message{
		message.Timestamp,
		message.From,
		message.To,
		message.ID,
		message.MessageType,
		v,
	}
}

func CreateMessage(messageType, from, to string, message interface{}) Message {
	return Message{
		time.Now().UTC(),
		from,
		to,
		uuid.New().String(),
		messageType,
		message,
	}
}
