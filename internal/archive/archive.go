// Package archive keeps a Google Drive copy of every processed call.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rsvedant/a2apayments-sub000/internal/storage"
)

type CallGetter interface {
	GetCall(id string) (storage.Call, error)
}

type Uploader interface {
	Upload(ctx context.Context, name, localPath, fileID string) (string, error)
}

// Archiver renders processed calls to markdown and uploads them. Re-archiving
// a call replaces its document instead of creating a new one.
type Archiver struct {
	calls    CallGetter
	writer   *storage.Writer
	uploader Uploader
	timeout  time.Duration

	mu      sync.Mutex
	fileIDs map[string]string
	wg      sync.WaitGroup
}

func New(calls CallGetter, writer *storage.Writer, uploader Uploader) *Archiver {
	return &Archiver{
		calls:    calls,
		writer:   writer,
		uploader: uploader,
		timeout:  time.Minute,
		fileIDs:  make(map[string]string),
	}
}

// ArchiveCall writes the call's markdown locally and uploads it.
func (a *Archiver) ArchiveCall(ctx context.Context, callID string) error {
	call, err := a.calls.GetCall(callID)
	if err != nil {
		return err
	}
	path, err := a.writer.WriteCall(call)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	name := fmt.Sprintf("callsync-%s-%s", call.CreatedAt.UTC().Format("2006-01-02"), call.ID)
	id, err := a.uploader.Upload(ctx, name, path, a.fileIDs[call.ID])
	if err != nil {
		return err
	}
	a.fileIDs[call.ID] = id
	return nil
}

// OnProcessed archives the call in the background. Its signature matches
// ingest.ProcessedHook.
func (a *Archiver) OnProcessed(ctx context.Context, callID string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.ArchiveCall(actx, callID); err != nil {
			slog.Warn("call archive failed", "call_id", callID, "error", err)
			return
		}
		slog.Info("call archived", "call_id", callID)
	}()
}

// Wait blocks until background uploads finish.
func (a *Archiver) Wait() {
	a.wg.Wait()
}
