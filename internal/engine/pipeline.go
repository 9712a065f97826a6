package engine

import (
	"sync/atomic"
	"time"

	"udpflow/internal/config"
	"udpflow/internal/logger"
	"udpflow/internal/metrics"
	"udpflow/internal/queue"
	"udpflow/internal/transport"
	"udpflow/internal/wire"
)

// ProtocolContext is the process-wide state shared by every phase
// transmitter and by the three long-lived tasks (ingress, egress, timer).
// ackReplicas is read by the ingress task on every arrival, so it is an
// atomic rather than state guarded by a mutex.
type ProtocolContext struct {
	Sending     bool
	NextID      uint32 // advanced only via atomic.AddUint32
	ackReplicas int32

	MainQueue *queue.Queue[MainEvent]
	OutQueue  *queue.Queue[OutEvent]

	stopped atomic.Bool

	receiver *transport.Receiver
	sender   *transport.Sender

	Log     *logger.Logger
	Metrics *metrics.Transfer
}

// NewContext binds the receiver/sender sockets for the given role and
// wires up the two queues the pipeline tasks share with the phase
// transmitters.
func NewContext(sending bool, log *logger.Logger, m *metrics.Transfer) (*ProtocolContext, error) {
	recvPort := config.OriginPort
	sendPort := config.DestPort
	if sending {
		recvPort = config.DestPort
		sendPort = config.OriginPort
	}

	receiver, err := transport.NewReceiver(recvPort)
	if err != nil {
		return nil, err
	}
	sender, err := transport.NewSender(sendPort)
	if err != nil {
		_ = receiver.Close()
		return nil, err
	}

	ctx := &ProtocolContext{
		Sending:     sending,
		MainQueue:   queue.New[MainEvent](),
		OutQueue:    queue.New[OutEvent](),
		receiver:    receiver,
		sender:      sender,
		Log:         log,
		Metrics:     m,
		ackReplicas: config.AckReplicasIdle,
	}
	return ctx, nil
}

// Stop requests a clean shutdown: the three tasks observe this on their
// next iteration and the blocked queue waiters are released.
func (c *ProtocolContext) Stop() {
	if c.stopped.Swap(true) {
		return
	}
	c.MainQueue.Close()
	c.OutQueue.Close()
}

// Stopped reports whether Stop has been called.
func (c *ProtocolContext) Stopped() bool { return c.stopped.Load() }

// SetAckReplicas changes how many duplicate acks the ingress task emits per
// accepted message. The file phase raises this to compensate for the
// higher datagram volume in flight.
func (c *ProtocolContext) SetAckReplicas(n int32) { atomic.StoreInt32(&c.ackReplicas, n) }

// NextIDPtr exposes the shared id counter for Transmitter construction.
func (c *ProtocolContext) NextIDPtr() *uint32 { return &c.NextID }

// Close releases both sockets.
func (c *ProtocolContext) Close() {
	_ = c.receiver.Close()
	_ = c.sender.Close()
}

// RunIngress decodes arriving datagrams into MainEvents, dropping anything
// with a bad CRC, and answers every accepted data message with the current
// number of ack replicas. A receive error other than a timeout is logged
// and ends the task.
func (c *ProtocolContext) RunIngress() {
	for !c.Stopped() {
		srcIP, data, err := c.receiver.ListenForPackets()
		if err != nil {
			c.Log.Error("ingress recv failed: %v", err)
			return
		}
		if srcIP == "" {
			continue
		}
		pkt := wire.Decode(data)
		if !pkt.CRCOK {
			c.Metrics.AddPacketDropped()
			c.Log.WithPacket(pkt.ID).Debug("dropping packet with bad CRC from %s", srcIP)
			// The type byte is still read even though the frame failed its
			// CRC: a corrupted data message still gets a negative ack so
			// the sender's RTO path, not just silence, drives the resend.
			if pkt.Type == wire.TypeMsg {
				replicas := int(atomic.LoadInt32(&c.ackReplicas))
				for i := 0; i < replicas; i++ {
					c.OutQueue.Push(OutEvent{Type: OAck, ID: pkt.ID, DestIP: srcIP, Content: negativeAck})
				}
			}
			continue
		}
		c.Metrics.AddPacketReceived()
		switch pkt.Type {
		case wire.TypeMsg:
			c.MainQueue.Push(MainEvent{Type: MMsg, ID: pkt.ID, OriginIP: srcIP, Content: pkt.Payload})
			c.Metrics.AddBytesReceived(uint64(len(pkt.Payload)))
			replicas := int(atomic.LoadInt32(&c.ackReplicas))
			for i := 0; i < replicas; i++ {
				c.OutQueue.Push(OutEvent{Type: OAck, ID: pkt.ID, DestIP: srcIP, Content: positiveAck})
			}
		case wire.TypeAck:
			c.MainQueue.Push(MainEvent{Type: MAck, ID: pkt.ID, OriginIP: srcIP, Content: pkt.Payload})
		}
	}
}

// RunEgress drains outgoing events and writes the corresponding datagram to
// the wire, redirecting the shared Sender to each event's destination.
func (c *ProtocolContext) RunEgress() {
	for !c.Stopped() {
		batch, ok := c.OutQueue.WaitNonEmpty()
		if !ok {
			return
		}
		for _, ev := range batch {
			typ := wire.TypeMsg
			if ev.Type == OAck {
				typ = wire.TypeAck
			}
			if err := c.sender.SetDestIP(ev.DestIP); err != nil {
				c.Log.Warn("egress bad dest %q: %v", ev.DestIP, err)
				continue
			}
			c.sender.SendPacket(wire.Encode(ev.ID, typ, ev.Content))
			if ev.Type == OAck {
				c.Metrics.AddAckSent()
			} else {
				c.Metrics.AddPacketSent()
				c.Metrics.AddBytesSent(uint64(len(ev.Content)))
			}
		}
	}
}

// RunTimer ticks every ResendDelay and wakes the main loop with an M_TIO
// event so it can check for timed-out, unacked messages.
func (c *ProtocolContext) RunTimer() {
	ticker := time.NewTicker(config.ResendDelay)
	defer ticker.Stop()
	for !c.Stopped() {
		<-ticker.C
		if c.Stopped() {
			return
		}
		c.MainQueue.Push(MainEvent{Type: MTio})
	}
}

var (
	positiveAck = []byte{255}
	negativeAck = []byte{0}
)
