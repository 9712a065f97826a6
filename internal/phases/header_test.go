package phases_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udpflow/internal/engine"
	"udpflow/internal/phases"
	"udpflow/internal/queue"
)

func TestHeaderRoundTrip(t *testing.T) {
	mainQ := queue.New[engine.MainEvent]()
	outQ := queue.New[engine.OutEvent]()
	var nextID uint32

	sender := phases.NewHeaderSender("10.0.0.1", mainQ, outQ, &nextID, 0, 0)
	sender.SendHeaderMsg("notes.txt", 12345)

	out, ok := outQ.WaitNonEmpty()
	require.True(t, ok)
	require.Len(t, out, 1)

	receiver := phases.NewHeaderReceiver(mainQ, outQ, &nextID, 0, 0)
	mainQ.Push(engine.MainEvent{Type: engine.MMsg, ID: out[0].ID, Content: out[0].Content})

	err := receiver.RunMainBody(func() bool { return false }, func([]engine.MainEvent) {})
	require.NoError(t, err)

	name, size, err := receiver.ReceiveHeaderMsg()
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", name)
	assert.Equal(t, uint64(12345), size)
}

func TestHeaderTruncatesOverlongFilename(t *testing.T) {
	mainQ := queue.New[engine.MainEvent]()
	outQ := queue.New[engine.OutEvent]()
	var nextID uint32

	longName := ""
	for i := 0; i < 400; i++ {
		longName += "a"
	}

	sender := phases.NewHeaderSender("10.0.0.1", mainQ, outQ, &nextID, 0, 0)
	sender.SendHeaderMsg(longName, 1)

	out, _ := outQ.WaitNonEmpty()
	receiver := phases.NewHeaderReceiver(mainQ, outQ, &nextID, 0, 0)
	mainQ.Push(engine.MainEvent{Type: engine.MMsg, ID: out[0].ID, Content: out[0].Content})
	_ = receiver.RunMainBody(func() bool { return false }, func([]engine.MainEvent) {})

	name, _, err := receiver.ReceiveHeaderMsg()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(name), 256)
}
