package phases

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"udpflow/internal/engine"
	"udpflow/internal/queue"
)

// FileTransmitter streams a file as a sequence of fixed-size chunks inside
// a sliding window, followed by one trailing message carrying the sender's
// SHA-256 hex digest of the file content. The receiving side reassembles
// out-of-order chunks on a shelf keyed by id and truncates writes to the
// file's true byte size (carried separately by the header phase), which is
// what keeps the output file from being padded out to a chunk-size
// multiple.
type FileTransmitter struct {
	*engine.Transmitter

	chunkSize  int
	chunkCount uint32
	minMsgID   uint32
	window     int

	file         *os.File
	sendHash     hash.Hash
	eof          bool
	sentChecksum bool

	outFile     *os.File
	fileSize    uint64
	written     uint64
	nextWriteID uint32
	shelf       map[uint32][]byte
	recvHash    hash.Hash
}

// NewFileSender builds the file phase for the sending peer. chunkCount is
// the number of data chunks the file splits into; the phase sends
// chunkCount+1 messages in total (the extra one is the trailing digest) and
// waits for exactly one inbound message in return: the receiver's checksum
// confirmation, delivered inside this same phase's inbound slot rather than
// a phase of its own (see ReceiveChecksumConfirmationMsg). minMsgID is the
// id that confirmation carries — the receiver assigns it from its own,
// independent id counter, which starts at the header phase's floor and
// advances by one per confirmation it sends — while minAckID is this
// attempt's own fresh outgoing id floor.
func NewFileSender(destIP string, chunkCount uint32, mainQueue *queue.Queue[engine.MainEvent], outQueue *queue.Queue[engine.OutEvent], nextID *uint32, minAckID, minMsgID uint32, chunkSize, window int) *FileTransmitter {
	return &FileTransmitter{
		Transmitter: engine.NewSendTransmitter(destIP, int(chunkCount+1), 1, mainQueue, outQueue, nextID, minAckID, minMsgID),
		chunkSize:   chunkSize,
		chunkCount:  chunkCount,
		minMsgID:    minMsgID,
		window:      window,
	}
}

// NewFileReceiver builds the file phase for the listening peer.
func NewFileReceiver(chunkCount uint32, fileSize uint64, mainQueue *queue.Queue[engine.MainEvent], outQueue *queue.Queue[engine.OutEvent], nextID *uint32, minAckID, minMsgID uint32) *FileTransmitter {
	return &FileTransmitter{
		Transmitter: engine.NewReceiveTransmitter(int(chunkCount+1), mainQueue, outQueue, nextID, minAckID, minMsgID),
		chunkCount:  chunkCount,
		minMsgID:    minMsgID,
		fileSize:    fileSize,
		nextWriteID: minMsgID,
		shelf:       make(map[uint32][]byte),
		recvHash:    sha256.New(),
	}
}

// StartStreamFile opens the source file and fills the initial window.
func (f *FileTransmitter) StartStreamFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	f.file = file
	f.sendHash = sha256.New()
	return f.ContinueStreamFile()
}

// ContinueStreamFile tops up the window with further chunks, and once the
// file is exhausted, sends the trailing digest message exactly once. It is
// meant to be called as the after-batch hook of RunMainBody so the window
// refills as acks free up room.
func (f *FileTransmitter) ContinueStreamFile() error {
	for !f.eof && f.InFlight() < f.window {
		if err := f.sendNextChunk(); err != nil {
			return err
		}
	}
	if f.eof && !f.sentChecksum {
		digest := hex.EncodeToString(f.sendHash.Sum(nil))
		f.SendMsg([]byte(digest))
		f.sentChecksum = true
	}
	return nil
}

func (f *FileTransmitter) sendNextChunk() error {
	buf := make([]byte, f.chunkSize)
	n, err := f.file.Read(buf)
	if n > 0 {
		f.sendHash.Write(buf[:n])
		f.SendMsg(buf[:n])
	}
	if err == io.EOF || n == 0 {
		f.eof = true
		return f.file.Close()
	}
	if err != nil {
		return fmt.Errorf("read file chunk: %w", err)
	}
	return nil
}

// PrepReceiveFile opens the destination file for writing.
func (f *FileTransmitter) PrepReceiveFile(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s for writing: %w", path, err)
	}
	f.outFile = out
	return nil
}

// ReceiveStreamFile writes every in-order data chunk in the batch to disk,
// shelving out-of-order arrivals until the gap closes. Messages outside the
// data id range (the trailing digest, or ids from another phase) are
// ignored here; the digest is read back later via Digest().
func (f *FileTransmitter) ReceiveStreamFile(batch []engine.MainEvent) error {
	for _, ev := range batch {
		if ev.Type != engine.MMsg || ev.ID < f.minMsgID || ev.ID >= f.minMsgID+f.chunkCount {
			continue
		}
		if ev.ID == f.nextWriteID {
			if err := f.writeChunk(ev.Content); err != nil {
				return err
			}
			f.nextWriteID++
			for {
				c, ok := f.shelf[f.nextWriteID]
				if !ok {
					break
				}
				if err := f.writeChunk(c); err != nil {
					return err
				}
				delete(f.shelf, f.nextWriteID)
				f.nextWriteID++
			}
		} else {
			f.shelf[ev.ID] = ev.Content
		}
	}
	return nil
}

// writeChunk truncates content to whatever is left of the file's declared
// size before writing and hashing it, so a zero-padded final chunk never
// leaves the output file larger than the original.
func (f *FileTransmitter) writeChunk(content []byte) error {
	remaining := f.fileSize - f.written
	n := uint64(len(content))
	if n > remaining {
		n = remaining
	}
	if n == 0 {
		return nil
	}
	if _, err := f.outFile.Write(content[:n]); err != nil {
		return fmt.Errorf("write file chunk: %w", err)
	}
	f.recvHash.Write(content[:n])
	f.written += n
	return nil
}

// ReceiveChecksumConfirmationMsg parses the receiver peer's match/mismatch
// verdict. It arrives in this phase's own inbound slot — the one inbound
// message the sending peer's file phase waits on alongside every chunk and
// the trailing digest being acked — rather than through a phase of its own.
func (f *FileTransmitter) ReceiveChecksumConfirmationMsg() (bool, error) {
	content, ok := f.Recvd(f.minMsgID)
	if !ok {
		return false, fmt.Errorf("file phase completed without a checksum confirmation")
	}
	return parseChecksumConfirmation(content)
}

// Digest returns the sender's trailing hex digest message, once received.
func (f *FileTransmitter) Digest() (string, bool) {
	content, ok := f.Recvd(f.minMsgID + f.chunkCount)
	if !ok || len(content) < sha256.Size*2 {
		return "", false
	}
	return string(content[:sha256.Size*2]), true
}

// LocalChecksum returns the hex digest of everything written to disk so far.
func (f *FileTransmitter) LocalChecksum() string {
	return hex.EncodeToString(f.recvHash.Sum(nil))
}

// CloseWriteFile flushes and closes the destination file.
func (f *FileTransmitter) CloseWriteFile() error {
	if f.outFile == nil {
		return nil
	}
	return f.outFile.Close()
}
