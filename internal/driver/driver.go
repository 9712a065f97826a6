// Package driver sequences the three wire phases into the two end-to-end
// transfer flows: Send streams a file out and waits for the receiver's
// checksum verdict; Receive writes an incoming file to disk and reports
// back whether its hash matched.
package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"udpflow/internal/config"
	"udpflow/internal/engine"
	"udpflow/internal/phases"
)

// Send transmits filePath to destIP: header, then file body + digest, then
// waits for the receiver's match/mismatch verdict, retrying the whole file
// phase on a reported mismatch.
func Send(ctx *engine.ProtocolContext, destIP, filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filePath, err)
	}
	size := uint64(info.Size())
	baseName := filepath.Base(filePath)

	headerMinID := atomic.LoadUint32(ctx.NextIDPtr())
	header := phases.NewHeaderSender(destIP, ctx.MainQueue, ctx.OutQueue, ctx.NextIDPtr(), headerMinID, headerMinID)
	header.Metrics = ctx.Metrics
	header.Log = ctx.Log.WithPhase("header")
	header.SendHeaderMsg(baseName, size)
	if err := header.RunMainBody(ctx.Stopped, func([]engine.MainEvent) {}); err != nil {
		return fmt.Errorf("header phase: %w", err)
	}
	if ctx.Stopped() {
		return nil
	}
	ctx.Log.Info("header acked: %s (%d bytes)", baseName, size)

	chunkCount := chunkCountFor(size)

	// minMsgID is derived from the header phase's floor, not from this
	// peer's own advancing outgoing id range: the receiver's
	// checksum-confirmation message is assigned its id by the receiver's
	// own independent id counter, which starts at that same floor and
	// advances by one for each confirmation it sends (one per attempt), so
	// attempt n watches for id headerMinID+n-1.
	for attempt := 1; ; attempt++ {
		minAckID := atomic.LoadUint32(ctx.NextIDPtr())
		confirmID := headerMinID + uint32(attempt-1)
		ctx.SetAckReplicas(config.AckReplicasFile)
		file := phases.NewFileSender(destIP, chunkCount, ctx.MainQueue, ctx.OutQueue, ctx.NextIDPtr(), minAckID, confirmID, config.PayloadLen, config.WindowSize)
		file.Metrics = ctx.Metrics
		file.Log = ctx.Log.WithPhase("file").WithField("attempt", fmt.Sprintf("%d", attempt))
		if err := file.StartStreamFile(filePath); err != nil {
			return fmt.Errorf("start file stream: %w", err)
		}
		err := file.RunMainBody(ctx.Stopped, func([]engine.MainEvent) {
			if err := file.ContinueStreamFile(); err != nil {
				ctx.Log.Error("file stream: %v", err)
			}
		})
		ctx.SetAckReplicas(config.AckReplicasIdle)
		if err != nil {
			return fmt.Errorf("file phase: %w", err)
		}
		if ctx.Stopped() {
			return nil
		}

		match, err := file.ReceiveChecksumConfirmationMsg()
		if err != nil {
			return fmt.Errorf("parse checksum confirmation: %w", err)
		}
		if match {
			ctx.Log.Info("transfer complete, checksum confirmed (attempt %d)", attempt)
			return nil
		}
		ctx.Log.Warn("receiver reported checksum mismatch, retransmitting whole file")
	}
}

// Receive runs the listening side of a transfer: header, then file body,
// then a local hash comparison whose verdict it reports back, retrying its
// own receive state on a mismatch (the sender will resend the whole file).
// It returns the path of the file written to disk.
func Receive(ctx *engine.ProtocolContext, outDir string) (string, error) {
	minID := atomic.LoadUint32(ctx.NextIDPtr())
	header := phases.NewHeaderReceiver(ctx.MainQueue, ctx.OutQueue, ctx.NextIDPtr(), minID, minID)
	header.Metrics = ctx.Metrics
	header.Log = ctx.Log.WithPhase("header")
	if err := header.RunMainBody(ctx.Stopped, func([]engine.MainEvent) {}); err != nil {
		return "", fmt.Errorf("header phase: %w", err)
	}
	if ctx.Stopped() {
		return "", nil
	}
	fileName, fileSize, err := header.ReceiveHeaderMsg()
	if err != nil {
		return "", fmt.Errorf("parse header: %w", err)
	}
	if err := config.ValidateFilePath(fileName); err != nil {
		return "", fmt.Errorf("rejected incoming filename: %w", err)
	}
	ctx.Log.Info("receiving %s (%d bytes) from %s", fileName, fileSize, header.SrcIP)

	outPath := filepath.Join(outDir, filepath.Base(fileName))
	chunkCount := chunkCountFor(fileSize)

	// The file phase's chunk and digest ids come from the sender's id
	// counter, which continues right after its header message (id minID);
	// each attempt uses chunkCount+1 of them.
	fileMinID := minID + 1

	for attempt := 1; ; attempt++ {
		ctx.SetAckReplicas(config.AckReplicasFile)
		file := phases.NewFileReceiver(chunkCount, fileSize, ctx.MainQueue, ctx.OutQueue, ctx.NextIDPtr(), fileMinID, fileMinID)
		file.Metrics = ctx.Metrics
		file.Log = ctx.Log.WithPhase("file").WithField("attempt", fmt.Sprintf("%d", attempt))
		if err := file.PrepReceiveFile(outPath); err != nil {
			return "", err
		}
		err := file.RunMainBody(ctx.Stopped, func(batch []engine.MainEvent) {
			if err := file.ReceiveStreamFile(batch); err != nil {
				ctx.Log.Error("file stream: %v", err)
			}
		})
		ctx.SetAckReplicas(config.AckReplicasIdle)
		_ = file.CloseWriteFile()
		if err != nil {
			return "", fmt.Errorf("file phase: %w", err)
		}
		if ctx.Stopped() {
			return "", nil
		}

		digest, _ := file.Digest()
		match := digest == file.LocalChecksum()
		ctx.Log.Info("file received, checksum match=%v (attempt %d)", match, attempt)

		// The confirmation's own id comes from this peer's counter; inbound
		// messages below the next attempt's file ids are ignored.
		nextFileMinID := fileMinID + chunkCount + 1
		confirmID := atomic.LoadUint32(ctx.NextIDPtr())
		confirm := phases.NewChecksumConfirmSender(file.SrcIP, ctx.MainQueue, ctx.OutQueue, ctx.NextIDPtr(), confirmID, nextFileMinID)
		confirm.Metrics = ctx.Metrics
		confirm.Log = ctx.Log.WithPhase("checksum")
		confirm.SendConfirmationMsg(match)
		if err := confirm.RunMainBody(ctx.Stopped, func([]engine.MainEvent) {}); err != nil {
			return "", fmt.Errorf("checksum confirm phase: %w", err)
		}
		if ctx.Stopped() {
			return "", nil
		}
		if match {
			return outPath, nil
		}
		fileMinID = nextFileMinID
	}
}

func chunkCountFor(size uint64) uint32 {
	if size == 0 {
		return 0
	}
	return uint32((size + config.PayloadLen - 1) / config.PayloadLen)
}
