package models

import "time"

// QueuedMessage is an MQTT publish persisted while the broker was unreachable.
type QueuedMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	QOS       byte      `json:"qos"`
	Retain    bool      `json:"retain"`
}
