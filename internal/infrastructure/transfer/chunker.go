package transfer

import (
	"fmt"
	"sync"
	"time"

	"commlink/internal/core/domain"
	"commlink/internal/infrastructure/signal"

	"go.uber.org/zap"
)

// DefaultChunkSize keeps file frames comfortably under the relay's
// frame size limit once base64 and envelope overhead are added.
const DefaultChunkSize = 32 * 1024

// Chunker splits a file into numbered file frames for the wire and
// reassembles inbound chunk sequences back into files. Chunks of one
// transfer are identified by message id and must arrive in order;
// out-of-order or duplicate chunks abort the transfer.
type Chunker struct {
	chunkSize int

	mu      sync.Mutex
	pending map[domain.MessageID]*assembly

	logger *zap.SugaredLogger
}

type assembly struct {
	descriptor domain.FileDescriptor
	sender     domain.ParticipantID
	roomID     domain.RoomID
	data       []byte
	next       int
	startedAt  time.Time
}

func NewChunker(chunkSize int, logger *zap.SugaredLogger) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{
		chunkSize: chunkSize,
		pending:   make(map[domain.MessageID]*assembly),
		logger:    logger,
	}
}

// Split produces the file frames for one outbound transfer, in send
// order. The first frame's descriptor fields carry name, size and
// total chunk count so receivers can preallocate.
func (c *Chunker) Split(id domain.MessageID, name, mimeType string, data []byte) ([]signal.FilePayload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file %q", name)
	}

	chunks := (len(data) + c.chunkSize - 1) / c.chunkSize
	payloads := make([]signal.FilePayload, 0, chunks)

	for i := 0; i < chunks; i++ {
		start := i * c.chunkSize
		end := start + c.chunkSize
		if end > len(data) {
			end = len(data)
		}
		payloads = append(payloads, signal.FilePayload{
			ID:       id,
			Name:     name,
			Size:     int64(len(data)),
			MimeType: mimeType,
			Chunk:    i,
			Chunks:   chunks,
			Data:     data[start:end],
		})
	}

	return payloads, nil
}

// CompletedFile is a fully reassembled inbound transfer.
type CompletedFile struct {
	Descriptor domain.FileDescriptor
	SenderID   domain.ParticipantID
	RoomID     domain.RoomID
	Data       []byte
}

// Accept feeds one inbound chunk. It returns the completed file once
// the last chunk lands, nil while the transfer is still in flight.
func (c *Chunker) Accept(from domain.ParticipantID, roomID domain.RoomID, payload signal.FilePayload) (*CompletedFile, error) {
	if payload.Chunks <= 0 || payload.Chunk < 0 || payload.Chunk >= payload.Chunks {
		return nil, fmt.Errorf("invalid chunk index %d/%d", payload.Chunk, payload.Chunks)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	asm, ok := c.pending[payload.ID]
	if !ok {
		if payload.Chunk != 0 {
			return nil, fmt.Errorf("transfer %s started mid-stream at chunk %d", payload.ID, payload.Chunk)
		}
		asm = &assembly{
			descriptor: domain.FileDescriptor{
				Name:     payload.Name,
				Size:     payload.Size,
				MimeType: payload.MimeType,
				Chunks:   payload.Chunks,
			},
			sender:    from,
			roomID:    roomID,
			data:      make([]byte, 0, payload.Size),
			startedAt: time.Now(),
		}
		c.pending[payload.ID] = asm
	}

	if from != asm.sender {
		return nil, fmt.Errorf("chunk for %s from wrong sender %s", payload.ID, from)
	}
	if payload.Chunk != asm.next {
		delete(c.pending, payload.ID)
		return nil, fmt.Errorf("transfer %s aborted: expected chunk %d, got %d", payload.ID, asm.next, payload.Chunk)
	}

	asm.data = append(asm.data, payload.Data...)
	asm.next++

	if asm.next < asm.descriptor.Chunks {
		return nil, nil
	}

	delete(c.pending, payload.ID)
	if int64(len(asm.data)) != asm.descriptor.Size {
		return nil, fmt.Errorf("transfer %s size mismatch: declared %d, got %d",
			payload.ID, asm.descriptor.Size, len(asm.data))
	}

	c.logger.Infow("file transfer complete",
		"message_id", payload.ID,
		"name", asm.descriptor.Name,
		"size", asm.descriptor.Size,
		"chunks", asm.descriptor.Chunks,
	)

	return &CompletedFile{
		Descriptor: asm.descriptor,
		SenderID:   asm.sender,
		RoomID:     asm.roomID,
		Data:       asm.data,
	}, nil
}

// Expire drops in-flight transfers older than maxAge and reports how
// many were dropped.
func (c *Chunker) Expire(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	cutoff := time.Now().Add(-maxAge)
	for id, asm := range c.pending {
		if asm.startedAt.Before(cutoff) {
			delete(c.pending, id)
			dropped++
		}
	}
	if dropped > 0 {
		c.logger.Warnw("expired stalled file transfers", "count", dropped)
	}
	return dropped
}

// Pending reports the number of in-flight inbound transfers.
func (c *Chunker) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
