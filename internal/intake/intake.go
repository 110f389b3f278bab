// Package intake turns photos and documents posted into a group into attachments of the
// poster's open form.
//
// A batch is archived into the files channel, referenced from the draft, appended to the
// payload and reflected into the wizard message before the member's source messages are
// deleted. Until the reflection succeeded the sources stay in the chat, so a failure never
// loses what the member sent.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mmynk/splitbot/internal/apperr"
	"github.com/mmynk/splitbot/internal/metrics"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/notice"
	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/internal/storage"
	"github.com/mmynk/splitbot/internal/timers"
	"github.com/mmynk/splitbot/internal/wizard"
)

// DefaultQuiet is how long a media group must stay quiet before it is processed.
const DefaultQuiet = time.Second

// RejectedText is the notice shown for an unsupported attachment.
const RejectedText = "Invalid file type. Only photos, PNGs, and PDFs are accepted."

var allowedMIME = []string{"image/jpeg", "image/png", "application/pdf"}

// Allowed reports whether mime is an accepted attachment type.
func Allowed(mime string) bool {
	return slices.Contains(allowedMIME, mime)
}

// Attachment is one inbound photo or document.
type Attachment struct {
	ChatID       int64
	UserID       int64
	MessageID    int64
	FileID       string
	MIME         string
	Size         int64
	MediaGroupID string
	Caption      string
}

// Archiver keeps durable copies of source messages.
type Archiver interface {
	Store(ctx context.Context, chatID, messageID int64) (int64, error)
	Purge(ctx context.Context, archiveIDs ...int64) error
}

// Reflector shows the updated form in its wizard message. It returns an error wrapping
// platform.ErrMessageGone when that message no longer exists.
type Reflector interface {
	Reflect(ctx context.Context, view *wizard.View) error
}

// Executor runs fn on behalf of userID. The dispatcher supplies one that serializes fn with
// the member's other events; the default runs fn on the calling goroutine.
type Executor func(userID int64, fn func(ctx context.Context))

func inline(_ int64, fn func(ctx context.Context)) {
	fn(context.Background())
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Files     storage.FileStore
	Wizard    *wizard.Engine
	Archive   Archiver
	Messenger platform.Messenger
	Reflector Reflector
	Timers    *timers.Registry
	Notices   *notice.Notifier
}

// Pipeline processes attachments.
type Pipeline struct {
	Deps

	exec    Executor
	quiet   time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	batches map[string][]Attachment
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithExecutor(exec Executor) Option {
	return func(p *Pipeline) { p.exec = exec }
}

// WithQuiet sets the media group debounce window.
func WithQuiet(d time.Duration) Option {
	return func(p *Pipeline) { p.quiet = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a Pipeline.
func New(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		Deps:    deps,
		exec:    inline,
		quiet:   DefaultQuiet,
		now:     time.Now,
		logger:  slog.Default(),
		batches: make(map[string][]Attachment),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func batchKey(a Attachment) string {
	return fmt.Sprintf("media:%d:%d:%s", a.ChatID, a.UserID, a.MediaGroupID)
}

// Submit accepts one attachment. A lone attachment is processed right away; members of a
// media group are collected until the group has been quiet for the debounce window.
func (p *Pipeline) Submit(ctx context.Context, a Attachment) error {
	if a.MediaGroupID == "" {
		return p.process(ctx, []Attachment{a})
	}

	key := batchKey(a)
	p.mu.Lock()
	p.batches[key] = append(p.batches[key], a)
	p.mu.Unlock()

	userID := a.UserID
	p.Timers.Schedule(key, p.quiet, func() {
		p.exec(userID, func(ctx context.Context) { p.flush(ctx, key) })
	})
	return nil
}

// Pending returns how many attachments wait in unflushed media groups.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, batch := range p.batches {
		n += len(batch)
	}
	return n
}

func (p *Pipeline) flush(ctx context.Context, key string) {
	p.mu.Lock()
	batch := p.batches[key]
	delete(p.batches, key)
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := p.process(ctx, batch); err != nil {
		if apperr.Is(err, apperr.KindExternal) {
			p.logger.Warn("Media group not applied", "key", key, "files", len(batch), "error", err)
			return
		}
		p.logger.Error("Failed to process media group", "key", key, "files", len(batch), "error", err)
	}
}

func (p *Pipeline) process(ctx context.Context, batch []Attachment) error {
	first := batch[0]
	t := wizard.Target{ChatID: first.ChatID, UserID: first.UserID}

	d, gone, err := p.Wizard.Current(ctx, t)
	if err != nil {
		return err
	}
	if gone != nil {
		// No open form: the attachments are ordinary chat messages.
		if gone.MessageID != 0 {
			p.deleteMessage(ctx, first.ChatID, gone.MessageID)
		}
		return nil
	}
	if !wizard.AcceptsAttachments(d) {
		return nil
	}

	var accepted []Attachment
	for _, a := range batch {
		if Allowed(a.MIME) {
			accepted = append(accepted, a)
			continue
		}
		p.reject(ctx, a)
	}
	if len(accepted) == 0 {
		p.metrics.IntakeBatch("rejected")
		return nil
	}

	archived := make([]int64, 0, len(accepted))
	for _, a := range accepted {
		id, err := p.Archive.Store(ctx, a.ChatID, a.MessageID)
		if err != nil {
			p.purge(ctx, archived)
			p.metrics.IntakeBatch("archive_failed")
			return apperr.External("archive attachments", err)
		}
		archived = append(archived, id)
	}

	files := make([]models.DraftFile, 0, len(accepted))
	uploadedAt := p.now().Unix()
	for i, a := range accepted {
		ref := &models.FileRef{
			FileID:           a.FileID,
			ArchiveMessageID: archived[i],
			UploaderID:       a.UserID,
			MIME:             a.MIME,
			Size:             a.Size,
			Relation:         models.DraftRelation(d.ID),
			UploadedAt:       uploadedAt,
		}
		if err := p.Files.CreateFileRef(ctx, ref); err != nil {
			p.undo(ctx, files, archived)
			return fmt.Errorf("failed to store file ref: %w", err)
		}
		files = append(files, models.DraftFile{
			RefID:            ref.ID,
			FileID:           ref.FileID,
			ArchiveMessageID: ref.ArchiveMessageID,
			MIME:             ref.MIME,
			Size:             ref.Size,
		})
	}

	t.DraftID = d.ID
	res, err := p.Wizard.AppendAttachments(ctx, t, files, caption(accepted))
	if err != nil {
		p.undo(ctx, files, archived)
		return err
	}
	if res.Event.Kind != wizard.EventUpdated {
		// The form moved on or ended between the read and the write.
		p.undo(ctx, files, archived)
		if res.MessageID != 0 {
			p.deleteMessage(ctx, first.ChatID, res.MessageID)
		}
		p.metrics.IntakeBatch("discarded")
		return nil
	}

	if err := p.Reflector.Reflect(ctx, res.View); err != nil {
		if !errors.Is(err, platform.ErrMessageGone) {
			// The form stays, minus this batch; the sources are kept for a retry.
			refIDs := make([]string, 0, len(files))
			for _, f := range files {
				refIDs = append(refIDs, f.RefID)
			}
			if _, derr := p.Wizard.DropAttachments(ctx, t, refIDs); derr != nil {
				p.logger.Error("Failed to drop unreflected attachments", "draft_id", d.ID, "error", derr)
			}
			p.undo(ctx, files, archived)
			p.metrics.IntakeBatch("reflect_failed")
			return apperr.External("reflect attachments", err)
		}
		// The wizard message was deleted, so the whole form goes. The payload already lists the
		// new files, which lets the rollback find every reference and archived copy.
		if _, cerr := p.Wizard.Cancel(ctx, t); cerr != nil {
			return fmt.Errorf("failed to roll back form: %w", cerr)
		}
		p.metrics.IntakeRollback()
		p.logger.Info("Form rolled back after its message vanished", "draft_id", d.ID, "chat_id", d.ChatID, "user_id", d.UserID)
		return nil
	}

	for _, a := range accepted {
		p.deleteMessage(ctx, a.ChatID, a.MessageID)
	}
	p.metrics.IntakeBatch("applied")
	p.logger.Debug("Attachments applied", "draft_id", d.ID, "files", len(accepted))
	return nil
}

// caption returns the first non-empty caption of the batch.
func caption(batch []Attachment) string {
	for _, a := range batch {
		if a.Caption != "" {
			return a.Caption
		}
	}
	return ""
}

func (p *Pipeline) reject(ctx context.Context, a Attachment) {
	p.deleteMessage(ctx, a.ChatID, a.MessageID)
	if _, err := p.Notices.Send(ctx, a.ChatID, RejectedText); err != nil {
		p.logger.Warn("Failed to send file type notice", "chat_id", a.ChatID, "error", err)
	}
}

// undo removes the references and archived copies of a batch that was not applied.
func (p *Pipeline) undo(ctx context.Context, files []models.DraftFile, archived []int64) {
	for _, f := range files {
		if err := p.Files.DeleteFileRef(ctx, f.RefID); err != nil {
			p.logger.Error("Failed to delete file ref", "ref_id", f.RefID, "error", err)
		}
	}
	p.purge(ctx, archived)
}

func (p *Pipeline) purge(ctx context.Context, archived []int64) {
	if len(archived) == 0 {
		return
	}
	if err := p.Archive.Purge(ctx, archived...); err != nil {
		p.logger.Warn("Failed to purge archived copies", "count", len(archived), "error", err)
	}
}

func (p *Pipeline) deleteMessage(ctx context.Context, chatID, messageID int64) {
	err := p.Messenger.DeleteMessage(ctx, chatID, messageID)
	if err != nil && !errors.Is(err, platform.ErrMessageGone) {
		p.logger.Warn("Failed to delete message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}
