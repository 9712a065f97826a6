package phases

import (
	"fmt"

	"udpflow/internal/engine"
	"udpflow/internal/queue"
)

const checksumMarker = "%*%CHKSUM%*%"

// ChecksumTransmitter is the receiving peer's one-shot reply once it has
// hashed the reassembled file: out=1, in=0. It never carries the checksum
// itself — that travels as the last message of the file phase. The sending
// peer never constructs one of these: it reads the verdict out of its own
// file phase's inbound slot instead (FileTransmitter.ReceiveChecksumConfirmationMsg),
// because the confirmation is delivered inside that phase, not a phase of
// its own on the sending side.
type ChecksumTransmitter struct {
	*engine.Transmitter
}

// NewChecksumConfirmSender is used by the receiving peer to report whether
// the reassembled file's hash matched the sender's.
func NewChecksumConfirmSender(destIP string, mainQueue *queue.Queue[engine.MainEvent], outQueue *queue.Queue[engine.OutEvent], nextID *uint32, minAckID, minMsgID uint32) *ChecksumTransmitter {
	return &ChecksumTransmitter{engine.NewSendTransmitter(destIP, 1, 0, mainQueue, outQueue, nextID, minAckID, minMsgID)}
}

// SendConfirmationMsg reports match/mismatch to the peer that sent the file.
func (c *ChecksumTransmitter) SendConfirmationMsg(match bool) {
	val := "0"
	if match {
		val = "1"
	}
	c.SendMsg([]byte(checksumMarker + val + "%*%"))
}

// parseChecksumConfirmation decodes a %*%CHKSUM%*%0|1%*% payload. Shared
// with FileTransmitter, which receives this same payload in its own
// inbound slot on the sending side.
func parseChecksumConfirmation(content []byte) (bool, error) {
	if len(content) < len(checksumMarker)+1 {
		return false, fmt.Errorf("invalid checksum confirmation: insufficient data")
	}
	text := string(content[3:9])
	if text != "CHKSUM" {
		return false, fmt.Errorf("expected checksum confirmation, got %q", text)
	}
	return content[12] == '1', nil
}
