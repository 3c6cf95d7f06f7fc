package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Publisher sends a payload on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MirrorHandler forwards records at WARN or above to a Publisher as
// "[LEVEL] message key=value ..." lines and passes every record to the
// wrapped handler. Publish failures are dropped. Records logged while a
// publish is in flight are not mirrored again.
type MirrorHandler struct {
	next    slog.Handler
	pub     *atomic.Pointer[Publisher]
	topic   *atomic.Pointer[string]
	level   slog.Level
	attrs   []slog.Attr
	group   string
	busy    *atomic.Bool
	timeout time.Duration
}

func NewMirrorHandler(next slog.Handler, topic string) *MirrorHandler {
	h := &MirrorHandler{
		next:    next,
		pub:     &atomic.Pointer[Publisher]{},
		topic:   &atomic.Pointer[string]{},
		level:   slog.LevelWarn,
		busy:    &atomic.Bool{},
		timeout: 2 * time.Second,
	}
	h.SetTopic(topic)
	return h
}

// SetPublisher attaches the publisher once it exists. Handlers derived with
// WithAttrs or WithGroup share it.
func (h *MirrorHandler) SetPublisher(p Publisher) {
	if p == nil {
		h.pub.Store(nil)
		return
	}
	h.pub.Store(&p)
}

// SetTopic changes the destination topic, typically once the device config
// is loaded.
func (h *MirrorHandler) SetTopic(topic string) {
	h.topic.Store(&topic)
}

func (h *MirrorHandler) Topic() string {
	return *h.topic.Load()
}

func (h *MirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || h.next.Enabled(ctx, level)
}

func (h *MirrorHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if r.Level < h.level {
		return err
	}
	p := h.pub.Load()
	if p == nil || !h.busy.CompareAndSwap(false, true) {
		return err
	}
	defer h.busy.Store(false)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()
	_ = (*p).Publish(pctx, h.Topic(), []byte(h.format(r)))
	return err
}

func (h *MirrorHandler) format(r slog.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", r.Level, r.Message)
	for _, a := range h.attrs {
		writeAttr(&sb, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&sb, h.group, a)
		return true
	})
	return sb.String()
}

func writeAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		p := a.Key
		if prefix != "" {
			p = prefix + "." + a.Key
		}
		for _, ga := range a.Value.Group() {
			writeAttr(sb, p, ga)
		}
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	fmt.Fprintf(sb, " %s=%v", key, a.Value.Any())
}

func (h *MirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *MirrorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	if h.group != "" {
		name = h.group + "." + name
	}
	c.group = name
	return &c
}
