package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"udpflow/internal/config"
	"udpflow/internal/logger"
	"udpflow/internal/metrics"
	"udpflow/internal/queue"
)

// Mode records whether a Transmitter has an outbound side (Send) or only
// receives (Receive). A Send-mode Transmitter still accepts inbound
// messages: it may be sending many outbound messages (file phase) while
// concurrently expecting a handful of inbound ones.
type Mode int

const (
	Send Mode = iota
	Receive
)

// Transmitter is the generic sliding-window send/receive state machine
// shared by every phase (header, file, checksum-confirm). It is driven
// exclusively by the single goroutine that calls RunMainBody; sentMsgs,
// recvdMsgs and done need no locking because nothing else touches them.
type Transmitter struct {
	mainQueue *queue.Queue[MainEvent]
	outQueue  *queue.Queue[OutEvent]
	nextID    *uint32 // process-wide, shared across phases, advanced atomically

	DestIP  string
	SrcIP   string
	Metrics *metrics.Transfer // optional; nil is valid and disables retransmission counting
	Log     *logger.Logger    // optional; nil is valid and disables logging

	sentMsgs  map[uint32]*SentMessage
	recvdMsgs map[uint32]*RecvdMessage

	inMsgCount  int
	outMsgCount int

	minAckID uint32
	minMsgID uint32

	Mode Mode
	done bool
}

// NewSendTransmitter builds a Transmitter whose outbound side targets destIP.
func NewSendTransmitter(destIP string, outMsgCount, inMsgCount int, mainQueue *queue.Queue[MainEvent], outQueue *queue.Queue[OutEvent], nextID *uint32, minAckID, minMsgID uint32) *Transmitter {
	return &Transmitter{
		mainQueue:   mainQueue,
		outQueue:    outQueue,
		nextID:      nextID,
		DestIP:      destIP,
		sentMsgs:    make(map[uint32]*SentMessage),
		recvdMsgs:   make(map[uint32]*RecvdMessage),
		inMsgCount:  inMsgCount,
		outMsgCount: outMsgCount,
		minAckID:    minAckID,
		minMsgID:    minMsgID,
		Mode:        Send,
	}
}

// NewReceiveTransmitter builds a Transmitter with no outbound side.
func NewReceiveTransmitter(inMsgCount int, mainQueue *queue.Queue[MainEvent], outQueue *queue.Queue[OutEvent], nextID *uint32, minAckID, minMsgID uint32) *Transmitter {
	return &Transmitter{
		mainQueue:   mainQueue,
		outQueue:    outQueue,
		nextID:      nextID,
		sentMsgs:    make(map[uint32]*SentMessage),
		recvdMsgs:   make(map[uint32]*RecvdMessage),
		inMsgCount:  inMsgCount,
		outMsgCount: 0,
		minAckID:    minAckID,
		minMsgID:    minMsgID,
		Mode:        Receive,
	}
}

// SendMsg assigns the next id from the shared, process-wide counter,
// records it as in-flight and enqueues the corresponding OutEvent.
func (t *Transmitter) SendMsg(payload []byte) uint32 {
	id := atomic.AddUint32(t.nextID, 1) - 1
	t.sentMsgs[id] = &SentMessage{Content: payload, Retries: 1, SentAt: time.Now()}
	t.outQueue.Push(OutEvent{Type: OMsg, ID: id, DestIP: t.DestIP, Content: payload})
	return id
}

// onMsg records a newly-arrived, non-duplicate message.
func (t *Transmitter) onMsg(ev MainEvent) {
	t.SrcIP = ev.OriginIP
	t.recvdMsgs[ev.ID] = &RecvdMessage{Content: ev.Content, ReceivedAt: time.Now()}
	t.checkCompletion()
}

// onAck applies an acknowledgement. Only a positive ack (first content byte
// > 128) marks the message delivered; a negative ack is dropped silently
// and the message stays in-flight until RTO or a later positive ack.
func (t *Transmitter) onAck(ev MainEvent) {
	sm, ok := t.sentMsgs[ev.ID]
	if !ok {
		return
	}
	sm.Acked = len(ev.Content) > 0 && ev.Content[0] > 128
	if sm.Acked {
		sm.Content = nil
	} else if t.Log != nil {
		t.Log.WithPacket(ev.ID).Debug("negative ack received, leaving packet in flight")
	}
	t.checkCompletion()
}

func (t *Transmitter) checkCompletion() {
	allAcked := true
	for _, m := range t.sentMsgs {
		if !m.Acked {
			allAcked = false
			break
		}
	}
	t.done = len(t.recvdMsgs) == t.inMsgCount && len(t.sentMsgs) == t.outMsgCount && allAcked
}

// onTimeout resends every unacked message older than ResendDelay. SentAt is
// deliberately never reset: every tick after the first timeout resends
// until a positive ack arrives or the retry cap trips.
func (t *Transmitter) onTimeout() error {
	now := time.Now()
	for id, m := range t.sentMsgs {
		if m.Acked {
			continue
		}
		if now.Sub(m.SentAt) > config.ResendDelay {
			m.Retries++
			if m.Retries > config.MaxRetries {
				return fmt.Errorf("out of attempts for packet %d", id)
			}
			if t.Metrics != nil {
				t.Metrics.AddRetransmission()
			}
			if t.Log != nil {
				t.Log.WithPacket(id).Warn("resending after RTO (retry %d/%d)", m.Retries, config.MaxRetries)
			}
			t.outQueue.Push(OutEvent{Type: OMsg, ID: id, DestIP: t.DestIP, Content: m.Content})
		}
	}
	return nil
}

// RunMainBody drains batches from the main queue until the phase is done or
// stopped, routing each event to onMsg/onAck/onTimeout, then invokes hook
// with the batch just processed so the phase can push more window frames.
func (t *Transmitter) RunMainBody(stopped func() bool, hook func([]MainEvent)) error {
	for !t.done && !stopped() {
		batch, ok := t.mainQueue.WaitNonEmpty()
		if !ok {
			return nil
		}
		if t.done || stopped() {
			break
		}
		for _, ev := range batch {
			switch ev.Type {
			case MMsg:
				if ev.ID >= t.minMsgID {
					if _, dup := t.recvdMsgs[ev.ID]; !dup {
						t.onMsg(ev)
					}
				}
			case MAck:
				if ev.ID >= t.minAckID && t.Mode == Send {
					t.onAck(ev)
				}
			case MTio:
				if err := t.onTimeout(); err != nil {
					return err
				}
			}
		}
		hook(batch)
	}
	return nil
}

// Done reports whether the completion predicate currently holds.
func (t *Transmitter) Done() bool { return t.done }

// Recvd returns the content received for id, if any.
func (t *Transmitter) Recvd(id uint32) ([]byte, bool) {
	m, ok := t.recvdMsgs[id]
	if !ok {
		return nil, false
	}
	return m.Content, true
}

// MinMsgID returns the floor of this phase's message id sub-range.
func (t *Transmitter) MinMsgID() uint32 { return t.minMsgID }

// RecvdCount returns the number of distinct messages received so far.
func (t *Transmitter) RecvdCount() int { return len(t.recvdMsgs) }

// SentCount returns the number of messages sent so far (acked or not).
func (t *Transmitter) SentCount() int { return len(t.sentMsgs) }

// InFlight returns the number of sent-but-not-yet-acked messages.
func (t *Transmitter) InFlight() int {
	n := 0
	for _, m := range t.sentMsgs {
		if !m.Acked {
			n++
		}
	}
	return n
}
