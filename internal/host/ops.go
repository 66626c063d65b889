package host

import (
	"context"
	"fmt"
	"sort"

	"vellum/internal/journal"
	"vellum/internal/msgrpc"
	"vellum/internal/nvim"
)

// CallMethod issues a raw api request and waits for its outcome. Arguments
// arrive as plain Go values (JSON-decoded on the control socket).
func (h *Host) CallMethod(ctx context.Context, method string, args []any) (any, error) {
	if method == "" {
		return nil, fmt.Errorf("host: method name is required")
	}
	sess, err := h.activeSession()
	if err != nil {
		return nil, err
	}
	values, err := buildArgs(args)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		err    any
		result any
	}
	ch := make(chan outcome, 1)
	id, err := sess.client.Call(method, values, func(respErr, result any) {
		ch <- outcome{err: respErr, result: result}
	})
	if err != nil {
		return nil, err
	}
	h.journalRequest(sess, method, id, preview(args))

	select {
	case out := <-ch:
		if out.err != nil {
			apiErr := nvim.DecodeError(out.err)
			h.journalResponse(sess, method, id, "error: "+apiErr.Error())
			return nil, apiErr
		}
		h.journalResponse(sess, method, id, preview(out.result))
		return out.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sess.client.Done():
		return nil, nvim.ErrSessionClosed
	}
}

// APIInfo performs a live api-info exchange with the engine.
func (h *Host) APIInfo(ctx context.Context) (nvim.Info, error) {
	sess, err := h.activeSession()
	if err != nil {
		return nvim.Info{}, err
	}
	return sess.client.APIInfoWait(ctx)
}

// Command runs an ex command and waits for the engine to accept or reject it.
func (h *Host) Command(ctx context.Context, command string) error {
	if command == "" {
		return fmt.Errorf("host: command is required")
	}
	_, err := h.CallMethod(ctx, "nvim_command", []any{command})
	return err
}

// Input feeds raw keys fire-and-forget.
func (h *Host) Input(keys string) error {
	sess, err := h.activeSession()
	if err != nil {
		return err
	}
	if err := sess.client.Input(keys); err != nil {
		return err
	}
	h.journalRequest(sess, "nvim_input", msgrpc.NullMsgID, preview(keys))
	return nil
}

// AttachUI announces a grid ui. Zero width or height falls back to the
// configured geometry.
func (h *Host) AttachUI(width, height int) error {
	sess, err := h.activeSession()
	if err != nil {
		return err
	}
	return h.AttachUIFor(sess, width, height)
}

// AttachUIFor attaches a ui on a specific session, applying configured
// defaults for missing geometry.
func (h *Host) AttachUIFor(sess *engineSession, width, height int) error {
	if width <= 0 {
		width = h.cfg.UI.Width
	}
	if height <= 0 {
		height = h.cfg.UI.Height
	}
	if err := sess.client.AttachUI(width, height, uiOptionPairs(h.cfg.UI.Options)...); err != nil {
		return err
	}
	sess.uiMu.Lock()
	sess.uiAttached = true
	sess.uiWidth = width
	sess.uiHeight = height
	sess.uiMu.Unlock()
	h.journalRequest(sess, "nvim_ui_attach", msgrpc.NullMsgID, fmt.Sprintf("%dx%d", width, height))
	return nil
}

// DetachUI withdraws the ui.
func (h *Host) DetachUI() error {
	sess, err := h.activeSession()
	if err != nil {
		return err
	}
	if err := sess.client.DetachUI(); err != nil {
		return err
	}
	sess.uiMu.Lock()
	sess.uiAttached = false
	sess.uiMu.Unlock()
	h.journalRequest(sess, "nvim_ui_detach", msgrpc.NullMsgID, "")
	return nil
}

// ResizeUI requests a new grid size.
func (h *Host) ResizeUI(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("host: resize needs positive dimensions, got %dx%d", width, height)
	}
	sess, err := h.activeSession()
	if err != nil {
		return err
	}
	if err := sess.client.TryResizeUI(width, height); err != nil {
		return err
	}
	sess.uiMu.Lock()
	if sess.uiAttached {
		sess.uiWidth = width
		sess.uiHeight = height
	}
	sess.uiMu.Unlock()
	h.journalRequest(sess, "nvim_ui_try_resize", msgrpc.NullMsgID, fmt.Sprintf("%dx%d", width, height))
	return nil
}

// QuitEngine asks the engine to exit without tearing down the host. With
// force the engine discards unsaved changes.
func (h *Host) QuitEngine(force bool) error {
	sess, err := h.activeSession()
	if err != nil {
		return err
	}
	if err := sess.client.Quit(!force); err != nil {
		return err
	}
	command := "qa"
	if force {
		command = "qa!"
	}
	h.journalRequest(sess, "nvim_command", msgrpc.NullMsgID, command)
	return nil
}

func (h *Host) journalRequest(sess *engineSession, method string, id uint32, detail string) {
	msg := journal.Message{
		SessionID: sess.id,
		Direction: journal.DirectionOutbound,
		Kind:      journal.KindRequest,
		Method:    method,
		Detail:    detail,
	}
	if id != msgrpc.NullMsgID {
		value := int64(id)
		msg.MsgID = &value
	}
	h.journalMessage(msg)
}

func (h *Host) journalResponse(sess *engineSession, method string, id uint32, detail string) {
	value := int64(id)
	h.journalMessage(journal.Message{
		SessionID: sess.id,
		Direction: journal.DirectionInbound,
		Kind:      journal.KindResponse,
		Method:    method,
		MsgID:     &value,
		Detail:    detail,
	})
}

// buildArgs converts plain values into wire arguments.
func buildArgs(args []any) (*msgrpc.Args, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := msgrpc.NewArgs()
	for i, arg := range args {
		value, err := msgrpc.FromAny(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out.Add(value)
	}
	return out, nil
}

// uiOptionPairs renders the configured capability map in a stable order.
func uiOptionPairs(options map[string]bool) []msgrpc.Pair {
	if len(options) == 0 {
		return nil
	}
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]msgrpc.Pair, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, msgrpc.Entry(key, msgrpc.Bool(options[key])))
	}
	return pairs
}
