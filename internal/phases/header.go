// Package phases implements the three wire sub-protocols a transfer runs in
// sequence, each a specialization of engine.Transmitter over its own id
// sub-range: the file header, the file body plus trailing checksum, and the
// checksum confirmation sent back by the receiver.
package phases

import (
	"encoding/binary"
	"fmt"
	"strings"

	"udpflow/internal/config"
	"udpflow/internal/engine"
	"udpflow/internal/queue"
)

const headerMarker = "%*%HEADER%*%"

// HeaderTransmitter carries the file's basename and true byte size as the
// single message of the header phase.
type HeaderTransmitter struct {
	*engine.Transmitter
}

// NewHeaderSender builds the header phase for the sending peer: one
// outbound message, nothing inbound.
func NewHeaderSender(destIP string, mainQueue *queue.Queue[engine.MainEvent], outQueue *queue.Queue[engine.OutEvent], nextID *uint32, minAckID, minMsgID uint32) *HeaderTransmitter {
	return &HeaderTransmitter{engine.NewSendTransmitter(destIP, 1, 0, mainQueue, outQueue, nextID, minAckID, minMsgID)}
}

// NewHeaderReceiver builds the header phase for the listening peer: one
// inbound message, nothing outbound.
func NewHeaderReceiver(mainQueue *queue.Queue[engine.MainEvent], outQueue *queue.Queue[engine.OutEvent], nextID *uint32, minAckID, minMsgID uint32) *HeaderTransmitter {
	return &HeaderTransmitter{engine.NewReceiveTransmitter(1, mainQueue, outQueue, nextID, minAckID, minMsgID)}
}

// SendHeaderMsg encodes the basename (truncated to MaxFilenameLen) and true
// file size into the single header message.
func (h *HeaderTransmitter) SendHeaderMsg(fileName string, fileSize uint64) {
	if len(fileName) > config.MaxFilenameLen {
		fileName = fileName[:config.MaxFilenameLen]
	}
	str := headerMarker + fileName + "%*%"
	data := make([]byte, 0, len(str)+8)
	data = append(data, []byte(str)...)
	data = binary.LittleEndian.AppendUint64(data, fileSize)
	h.SendMsg(data)
}

// ReceiveHeaderMsg parses the single received header message once the phase
// is done.
func (h *HeaderTransmitter) ReceiveHeaderMsg() (fileName string, fileSize uint64, err error) {
	content, ok := h.Recvd(h.MinMsgID())
	if !ok {
		return "", 0, fmt.Errorf("header phase completed without a message")
	}
	if len(content) < len(headerMarker)+3+8 {
		return "", 0, fmt.Errorf("invalid header: insufficient data")
	}
	text := string(content[3:9])
	if text != "HEADER" {
		return "", 0, fmt.Errorf("expected header, got %q", text)
	}

	rest := content[12:]
	end := strings.Index(string(rest), "%*%")
	if end < 0 {
		return "", 0, fmt.Errorf("invalid header: missing terminator")
	}
	fileName = string(rest[:end])
	sizeOff := 12 + end + 3
	if len(content) < sizeOff+8 {
		return "", 0, fmt.Errorf("invalid header: truncated size field")
	}
	fileSize = binary.LittleEndian.Uint64(content[sizeOff : sizeOff+8])
	return fileName, fileSize, nil
}
