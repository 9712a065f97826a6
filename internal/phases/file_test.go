package phases_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udpflow/internal/engine"
	"udpflow/internal/phases"
	"udpflow/internal/queue"
)

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

// chunkPayload splits payload into chunkSize-sized chunks, zero-padding the
// last one, as chunks arrive off the wire once wire.Encode has padded what
// FileTransmitter.sendNextChunk sent.
func chunkPayload(payload []byte, chunkSize int) [][]byte {
	var chunks [][]byte
	for off := 0; off < len(payload) || len(chunks) == 0 && len(payload) == 0; off += chunkSize {
		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		buf := make([]byte, chunkSize)
		copy(buf, payload[off:end])
		chunks = append(chunks, buf)
		if end == len(payload) {
			break
		}
	}
	return chunks
}

func TestFileReceiveReassemblesOutOfOrderChunksAndVerifiesDigest(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 2030) // exactly two full 1015-byte chunks
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	chunks := chunkPayload(payload, 1015)
	chunkCount := uint32(len(chunks))

	mainQ := queue.New[engine.MainEvent]()
	outQ := queue.New[engine.OutEvent]()
	var nextID uint32

	receiver := phases.NewFileReceiver(chunkCount, uint64(len(payload)), mainQ, outQ, &nextID, 0, 0)
	outPath := filepath.Join(dir, "out.bin")
	require.NoError(t, receiver.PrepReceiveFile(outPath))

	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])

	// Deliver chunk 1 before chunk 0 to exercise the out-of-order shelf,
	// and a duplicate of chunk 0, all through the same path RunMainBody
	// drives in production: the engine records each id in recvdMsgs while
	// the hook reassembles the file on disk from the same batch.
	mainQ.Push(engine.MainEvent{Type: engine.MMsg, ID: 1, Content: chunks[1]})
	mainQ.Push(engine.MainEvent{Type: engine.MMsg, ID: 0, Content: chunks[0]})
	mainQ.Push(engine.MainEvent{Type: engine.MMsg, ID: 0, Content: chunks[0]})
	mainQ.Push(engine.MainEvent{Type: engine.MMsg, ID: chunkCount, Content: []byte(digest)})

	require.NoError(t, receiver.RunMainBody(func() bool { return false }, func(batch []engine.MainEvent) {
		require.NoError(t, receiver.ReceiveStreamFile(batch))
	}))
	assert.True(t, receiver.Done())
	require.NoError(t, receiver.CloseWriteFile())

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	got2, ok := receiver.Digest()
	require.True(t, ok)
	assert.Equal(t, digest, got2)
	assert.Equal(t, digest, receiver.LocalChecksum())
}

func TestFileReceiveTruncatesFinalChunkToDeclaredSize(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 1500) // one full chunk + a short tail
	for i := range payload {
		payload[i] = byte(i)
	}

	mainQ := queue.New[engine.MainEvent]()
	outQ := queue.New[engine.OutEvent]()
	var nextID uint32

	receiver := phases.NewFileReceiver(2, uint64(len(payload)), mainQ, outQ, &nextID, 0, 0)
	outPath := filepath.Join(dir, "out.bin")
	require.NoError(t, receiver.PrepReceiveFile(outPath))

	chunks := chunkPayload(payload, 1015) // chunk 1 is zero-padded on the wire beyond the real tail

	require.NoError(t, receiver.ReceiveStreamFile([]engine.MainEvent{
		{Type: engine.MMsg, ID: 0, Content: chunks[0]},
		{Type: engine.MMsg, ID: 1, Content: chunks[1]},
	}))
	require.NoError(t, receiver.CloseWriteFile())

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	// Output must equal the true file size, never padded out to a
	// chunk-size multiple (the §9 DATA_LEN padding bug this fixes).
	assert.Equal(t, payload, got)
	assert.Len(t, got, 1500)
}

func TestFileSendStreamsWindowAndTrailingDigestOnce(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 2030)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	src := writeTempFile(t, dir, "src.bin", payload)

	mainQ := queue.New[engine.MainEvent]()
	outQ := queue.New[engine.OutEvent]()
	var nextID uint32

	chunkCount := uint32(2)
	sender := phases.NewFileSender("10.0.0.1", chunkCount, mainQ, outQ, &nextID, 0, 0, 1015, 4)
	require.NoError(t, sender.StartStreamFile(src))

	// Window is 4 and the file needs only 2 data chunks, so both plus the
	// trailing digest message should already be enqueued.
	batch, ok := outQ.WaitNonEmpty()
	require.True(t, ok)
	require.Len(t, batch, 3)
	assert.Equal(t, uint32(0), batch[0].ID)
	assert.Equal(t, uint32(1), batch[1].ID)
	assert.Equal(t, uint32(2), batch[2].ID)
	assert.Len(t, batch[2].Content, sha256.Size*2)

	// Acking all three and delivering the checksum confirmation completes
	// the phase; the after-batch hook must not push a second digest message.
	for _, ev := range batch {
		mainQ.Push(engine.MainEvent{Type: engine.MAck, ID: ev.ID, Content: []byte{255}})
	}
	mainQ.Push(engine.MainEvent{Type: engine.MMsg, ID: 0, Content: []byte("%*%CHKSUM%*%1%*%")})
	err := sender.RunMainBody(func() bool { return false }, func([]engine.MainEvent) {
		require.NoError(t, sender.ContinueStreamFile())
	})
	require.NoError(t, err)
	assert.True(t, sender.Done())

	match, err := sender.ReceiveChecksumConfirmationMsg()
	require.NoError(t, err)
	assert.True(t, match)

	outQ.Close()
	_, ok = outQ.WaitNonEmpty()
	assert.False(t, ok, "no second digest message may be queued")
}

// TestFileSendCompletesOnlyAfterChecksumConfirmation is the regression test
// for the bug where the sending peer's file phase declared itself done as
// soon as every chunk and the digest were acked, never waiting for the one
// inbound message spec.md requires: the receiver's checksum confirmation,
// delivered inside this same phase's inbound slot.
func TestFileSendCompletesOnlyAfterChecksumConfirmation(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("small file, one chunk")
	src := writeTempFile(t, dir, "src.bin", payload)

	mainQ := queue.New[engine.MainEvent]()
	outQ := queue.New[engine.OutEvent]()
	var nextID uint32

	sender := phases.NewFileSender("10.0.0.1", 1, mainQ, outQ, &nextID, 0, 0, 1015, 4)
	require.NoError(t, sender.StartStreamFile(src))

	batch, ok := outQ.WaitNonEmpty()
	require.True(t, ok)
	require.Len(t, batch, 2) // one chunk + the trailing digest

	for _, ev := range batch {
		mainQ.Push(engine.MainEvent{Type: engine.MAck, ID: ev.ID, Content: []byte{255}})
	}
	mainQ.Close()

	err := sender.RunMainBody(func() bool { return false }, func([]engine.MainEvent) {
		require.NoError(t, sender.ContinueStreamFile())
	})
	require.NoError(t, err)
	// Everything sent is acked, but no confirmation arrived: the phase must
	// not report itself done.
	assert.False(t, sender.Done())

	_, err = sender.ReceiveChecksumConfirmationMsg()
	assert.Error(t, err)
}
