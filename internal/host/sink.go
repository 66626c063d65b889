package host

import (
	"context"
	"fmt"

	"vellum/internal/journal"
	"vellum/internal/logging"
)

// journalQueueDepth bounds messages waiting for the journal writer. The
// enqueue path runs on the scheduler goroutine and drops instead of blocking.
const journalQueueDepth = 256

// previewLimit caps the rendered payload stored with a journal row.
const previewLimit = 160

// engineSink receives session events on the scheduler goroutine. Every
// method must return quickly; bookkeeping that can block is handed off.
type engineSink struct {
	host *Host
	sess *engineSession
}

func (s *engineSink) Redraw(events []any) {
	s.sess.redrawBatches.Add(1)
	s.sess.redrawEvents.Add(int64(len(events)))
	s.host.journalMessage(journal.Message{
		SessionID: s.sess.id,
		Direction: journal.DirectionInbound,
		Kind:      journal.KindNotification,
		Method:    "redraw",
		Detail:    fmt.Sprintf("%d events", len(events)),
	})
}

func (s *engineSink) CloseRequest() {
	s.sess.closeRequested.Store(true)
	s.host.log.Info("engine requested close",
		logging.String(logging.FieldEventType, "engine_close_request"),
		logging.String(logging.FieldSessionID, s.sess.id))
}

func (s *engineSink) Shutdown() {
	s.host.onSessionShutdown(s.sess)
}

func (h *Host) startJournalWriter() {
	if h.store == nil {
		return
	}
	h.jch = make(chan journal.Message, journalQueueDepth)
	h.jwg.Add(1)
	go func() {
		defer h.jwg.Done()
		for msg := range h.jch {
			if err := h.store.RecordMessage(context.Background(), &msg); err != nil {
				h.log.Warn("journal message write", logging.Error(err))
			}
		}
	}()
}

func (h *Host) stopJournalWriter() {
	if h.store == nil || h.jch == nil {
		return
	}
	h.jmu.Lock()
	if !h.jclosed {
		h.jclosed = true
		close(h.jch)
	}
	h.jmu.Unlock()
	h.jwg.Wait()
}

// journalMessage enqueues one traffic row without blocking. Rows are dropped
// when the writer cannot keep up; the drop count surfaces in Status.
func (h *Host) journalMessage(msg journal.Message) {
	if h.store == nil {
		return
	}
	h.jmu.RLock()
	defer h.jmu.RUnlock()
	if h.jclosed {
		return
	}
	select {
	case h.jch <- msg:
	default:
		// Only the first drop logs; the counter carries the rest.
		if h.journalDrops.Add(1) == 1 {
			h.log.Warn("journal writer saturated",
				logging.Alert("journal_drops"),
				logging.String(logging.FieldEventType, "journal_drop"),
				logging.String(logging.FieldImpact, "some traffic rows will be missing from the journal"),
				logging.String(logging.FieldErrorHint, "the drop count surfaces in `vellum status`"))
		}
	}
}

// preview renders a payload for a journal row, truncated to a sane width.
func preview(v any) string {
	if v == nil {
		return ""
	}
	rendered := fmt.Sprintf("%v", v)
	if len(rendered) > previewLimit {
		rendered = rendered[:previewLimit] + "..."
	}
	return rendered
}
