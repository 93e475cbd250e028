// Package scheduler ties ingress to execution: it turns Slack message events
// into queued work and drains each channel's queue in FIFO order, one Agent
// turn at a time per channel, at most MaxConcurrent turns across the gateway.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ktamas77/claudeway/internal/claude"
	"github.com/ktamas77/claudeway/internal/commands"
	"github.com/ktamas77/claudeway/internal/config"
	"github.com/ktamas77/claudeway/internal/queue"
	"github.com/ktamas77/claudeway/internal/respond"
	"github.com/ktamas77/claudeway/internal/slack"
)

const (
	// ImageSizeLimit caps a downloadable image attachment.
	ImageSizeLimit = 5 << 20

	// imagePromptFallback stands in when a message is only an image.
	imagePromptFallback = "What is in this image?"
)

// allowedImageTypes are the attachment MIME types passed to the Agent.
var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// TurnRecorder receives the outcome of every completed turn. Recording is
// best effort; failures must never affect delivery.
type TurnRecorder interface {
	RecordTurn(channelID, sessionID, prompt string, result *claude.TurnResult, turnErr error)
}

// Scheduler routes inbound events and drains per-channel queues.
type Scheduler struct {
	cfg    *config.Config
	client slack.API
	queue  *queue.Queue
	sup    *claude.Supervisor
	cmds   *commands.Handler
	rec    TurnRecorder // may be nil

	slots *semaphore.Weighted

	ctx context.Context // gateway lifetime; set in Start

	mu         sync.Mutex
	busy       map[string]bool   // channels with a drain goroutine running
	processing map[string]string // channel -> ts of the in-flight message
	wg         sync.WaitGroup
}

// New assembles the scheduler. rec may be nil to disable usage recording.
func New(cfg *config.Config, client slack.API, q *queue.Queue, sup *claude.Supervisor, cmds *commands.Handler, rec TurnRecorder) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		client:     client,
		queue:      q,
		sup:        sup,
		cmds:       cmds,
		rec:        rec,
		slots:      semaphore.NewWeighted(claude.MaxConcurrent),
		busy:       make(map[string]bool),
		processing: make(map[string]string),
	}
}

// Start begins draining any work that survived a restart. ctx bounds every
// turn the scheduler will ever run.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	counts := s.queue.PendingCounts()
	for channelID, n := range counts {
		slog.Info("recovered queued messages", "channel", channelID, "count", n)
		s.kick(channelID)
	}
}

// Wait blocks until every drain goroutine has finished. Call after the
// context passed to Start is cancelled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// HandleEvent is the Socket Mode callback for message events.
func (s *Scheduler) HandleEvent(ev slack.MessageEvent) {
	if ev.FromBot() {
		return
	}

	switch ev.SubType {
	case "message_deleted":
		if s.queue.Dequeue(ev.Channel, ev.DeletedTS) {
			slog.Info("queued message withdrawn", "channel", ev.Channel, "ts", ev.DeletedTS)
		}
		return
	case "message_changed":
		s.handleEdit(ev)
		return
	case "", "file_share":
		// fall through to enqueue
	default:
		return
	}

	// Control commands work anywhere, configured channel or not.
	text := strings.TrimSpace(ev.Text)
	if commands.IsMagicCommand(text) {
		reply := s.cmds.Handle(text, ev.Channel)
		if reply != "" {
			if _, err := s.client.PostMessage(s.ctx, ev.Channel, ev.TS, reply); err != nil {
				slog.Warn("command reply failed", "channel", ev.Channel, "error", err)
			}
		}
		return
	}

	ch, ok := s.cfg.Resolve(ev.Channel)
	if !ok {
		slog.Debug("message in unconfigured channel ignored", "channel", ev.Channel)
		return
	}

	images := s.downloadImages(ev)
	if text == "" {
		if len(images) == 0 {
			return
		}
		text = imagePromptFallback
	}

	m := queue.Message{
		ChannelID:  ev.Channel,
		UserID:     ev.User,
		Text:       text,
		TS:         ev.TS,
		ThreadTS:   ev.ThreadTS,
		QueuedAt:   time.Now(),
		ImagePaths: images,
	}
	if err := s.queue.Enqueue(m); err != nil {
		slog.Error("enqueue failed", "channel", ev.Channel, "error", err)
		s.reply(ev.Channel, ev.TS, fmt.Sprintf(":warning: Could not accept message: %v", err))
		return
	}

	if err := s.client.AddReaction(s.ctx, ev.Channel, ev.TS, "inbox_tray"); err != nil {
		slog.Debug("inbox reaction failed", "error", err)
	}
	slog.Info("message queued", "channel", ch.Name, "ts", ev.TS, "images", len(images))
	s.kick(ev.Channel)
}

// handleEdit propagates a user edit into the queue, but only while the
// message has not started processing.
func (s *Scheduler) handleEdit(ev slack.MessageEvent) {
	if ev.Message == nil {
		return
	}
	s.mu.Lock()
	inFlight := s.processing[ev.Channel] == ev.Message.TS
	s.mu.Unlock()
	if inFlight {
		slog.Debug("edit ignored, message already processing", "channel", ev.Channel, "ts", ev.Message.TS)
		return
	}
	if s.queue.UpdateText(ev.Channel, ev.Message.TS, strings.TrimSpace(ev.Message.Text)) {
		slog.Info("queued message updated", "channel", ev.Channel, "ts", ev.Message.TS)
	}
}

// downloadImages fetches acceptable image attachments to local temp files.
func (s *Scheduler) downloadImages(ev slack.MessageEvent) []string {
	var paths []string
	var dir string
	for _, f := range ev.Files {
		if !allowedImageTypes[f.Mimetype] {
			if f.Mimetype != "" {
				slog.Debug("unsupported attachment type skipped", "name", f.Name, "mimetype", f.Mimetype)
			}
			continue
		}
		if f.Size > ImageSizeLimit {
			slog.Warn("image too large, skipped", "name", f.Name, "size", f.Size)
			s.reply(ev.Channel, ev.TS, fmt.Sprintf(":warning: Image `%s` exceeds the 5 MB limit and was skipped", f.Name))
			continue
		}
		data, err := s.client.Download(s.ctx, f.URLPrivateDownload)
		if err != nil {
			slog.Warn("image download failed", "name", f.Name, "error", err)
			continue
		}
		if dir == "" {
			d, err := os.MkdirTemp("", "claudeway-img-")
			if err != nil {
				slog.Warn("image temp dir failed", "error", err)
				return paths
			}
			dir = d
		}
		path := filepath.Join(dir, f.ID+"_"+filepath.Base(f.Name))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			slog.Warn("image write failed", "path", path, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

// kick ensures a drain goroutine is running for the channel.
func (s *Scheduler) kick(channelID string) {
	s.mu.Lock()
	if s.busy[channelID] {
		s.mu.Unlock()
		return
	}
	s.busy[channelID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.drain(channelID)
}

// drain processes the channel's queue in FIFO order until it is empty.
func (s *Scheduler) drain(channelID string) {
	defer s.wg.Done()
	for {
		if s.ctx.Err() != nil {
			s.clearBusy(channelID)
			return
		}
		// Re-read each iteration so edits land between turns.
		msgs := s.queue.GetPendingForChannel(channelID)
		if len(msgs) == 0 {
			s.clearBusy(channelID)
			// A message may have been enqueued after the empty read but
			// before busy was cleared; re-kick if so.
			if len(s.queue.GetPendingForChannel(channelID)) > 0 {
				s.kick(channelID)
			}
			return
		}
		s.process(msgs[0])
	}
}

func (s *Scheduler) clearBusy(channelID string) {
	s.mu.Lock()
	delete(s.busy, channelID)
	s.mu.Unlock()
}

// process runs one queued message through the Agent and delivers the result.
func (s *Scheduler) process(m queue.Message) {
	ch, ok := s.cfg.Resolve(m.ChannelID)
	if !ok {
		// The channel was removed from the config while queued.
		slog.Warn("dropping queued message for unconfigured channel", "channel", m.ChannelID)
		s.queue.Dequeue(m.ChannelID, m.TS)
		cleanupImages(m.ImagePaths)
		return
	}

	if err := s.slots.Acquire(s.ctx, 1); err != nil {
		return // shutting down; message stays queued for next start
	}
	defer s.slots.Release(1)

	s.mu.Lock()
	s.processing[m.ChannelID] = m.TS
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.processing, m.ChannelID)
		s.mu.Unlock()
	}()

	// The slot wait can be long; an edit may have rewritten the record while
	// this message sat behind the global cap. Dispatch the on-disk text.
	if fresh, ok := s.queue.Get(m.ChannelID, m.TS); ok {
		m = fresh
	}

	// Add before remove so the message is never reaction-less mid-flight.
	s.setReaction(m, "hourglass_flowing_sand", "inbox_tray")

	threadTS := m.ThreadTS
	if threadTS == "" {
		threadTS = m.TS
	}
	responder := respond.New(ch.ResponseMode, s.client, m.ChannelID, threadTS)
	if err := responder.Start(s.ctx); err != nil {
		slog.Warn("responder start failed", "channel", ch.Name, "error", err)
	}

	slog.Info("turn starting", "channel", ch.Name, "mode", ch.ProcessMode, "ts", m.TS)
	var result *claude.TurnResult
	var err error
	if ch.ProcessMode == config.ProcessPersistent {
		result, err = s.sup.RunPersistentTurn(s.ctx, ch, m.Text, m.ImagePaths, responder.OnTextDelta)
	} else {
		result, err = s.sup.RunOneshot(s.ctx, ch, m.Text, m.ImagePaths, responder.OnTextDelta)
	}

	if err == nil {
		err = responder.Finish(s.ctx, result.Text)
		if err != nil {
			err = fmt.Errorf("delivering response: %w", err)
		}
	}

	if err != nil {
		slog.Error("turn failed", "channel", ch.Name, "ts", m.TS, "error", err)
		s.reply(m.ChannelID, threadTS, fmt.Sprintf(":warning: Error: %v", err))
		s.setReaction(m, "x", "hourglass_flowing_sand")
	} else {
		slog.Info("turn complete", "channel", ch.Name, "ts", m.TS, "duration", result.Duration)
		s.setReaction(m, "white_check_mark", "hourglass_flowing_sand")
	}

	if s.rec != nil {
		sessionID := claude.DeriveSessionID(ch.ChannelID, ch.Folder)
		s.rec.RecordTurn(m.ChannelID, sessionID, m.Text, result, err)
	}

	s.queue.Dequeue(m.ChannelID, m.TS)
	cleanupImages(m.ImagePaths)
}

// setReaction swaps the status reaction on the original message.
func (s *Scheduler) setReaction(m queue.Message, add, remove string) {
	if err := s.client.AddReaction(s.ctx, m.ChannelID, m.TS, add); err != nil {
		slog.Debug("reaction add failed", "name", add, "error", err)
	}
	if err := s.client.RemoveReaction(s.ctx, m.ChannelID, m.TS, remove); err != nil {
		slog.Debug("reaction remove failed", "name", remove, "error", err)
	}
}

func (s *Scheduler) reply(channelID, threadTS, text string) {
	if _, err := s.client.PostMessage(s.ctx, channelID, threadTS, text); err != nil {
		slog.Warn("reply failed", "channel", channelID, "error", err)
	}
}

// cleanupImages removes downloaded attachments and their temp dir.
func cleanupImages(paths []string) {
	if len(paths) == 0 {
		return
	}
	if err := os.RemoveAll(filepath.Dir(paths[0])); err != nil {
		slog.Debug("image cleanup failed", "error", err)
	}
}
