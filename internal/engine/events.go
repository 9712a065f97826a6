// Package engine implements the reliable-delivery protocol core: the
// MainEvent/OutEvent vocabulary, the sliding-window Transmitter state
// machine and the ingress/egress/timer pipeline that feeds it.
package engine

import "time"

// MainEventType distinguishes the three things that can wake the protocol
// loop.
type MainEventType int

const (
	MMsg MainEventType = iota
	MAck
	MTio
)

// MainEvent is produced by the ingress task (MMsg/MAck) or the timer task
// (MTio) and consumed by Transmitter.RunMainBody.
type MainEvent struct {
	Type     MainEventType
	ID       uint32
	OriginIP string
	Content  []byte
}

// OutEventType distinguishes an outgoing data message from an outgoing ack.
type OutEventType int

const (
	OMsg OutEventType = iota
	OAck
)

// OutEvent is consumed by the egress task.
type OutEvent struct {
	Type    OutEventType
	ID      uint32
	DestIP  string
	Content []byte
}

// SentMessage tracks one outgoing message awaiting acknowledgement.
type SentMessage struct {
	Content []byte
	Acked   bool
	Retries uint8
	SentAt  time.Time
}

// RecvdMessage tracks one accepted incoming message.
type RecvdMessage struct {
	Content    []byte
	ReceivedAt time.Time
}
