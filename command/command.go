// Package command handles the remote command channel: the power setpoint
// topic and the JSON configuration topic.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/config"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Motor interface {
	SetPower(p float64) error
	Power() float64
}

// Topics are the topics the device subscribes and publishes to.
type Topics struct {
	Power        string
	PowerStatus  string
	Config       string
	ConfigStatus string
	Log          string
}

// TopicsFor derives the topic set from the persisted config. The config
// topic lives under the first segment of the command topic:
// device/fan/power gives device/fan1/config.
func TopicsFor(c config.DeviceConfig) Topics {
	base := c.MQTTCommandTopic
	if i := strings.IndexByte(base, '/'); i >= 0 {
		base = base[:i]
	}
	cfg := base + "/fan1/config"
	return Topics{
		Power:        c.MQTTCommandTopic,
		PowerStatus:  c.MQTTStatusTopic,
		Config:       cfg,
		ConfigStatus: cfg + "/status",
		Log:          c.MQTTStatusTopic + "/log",
	}
}

// Subscriptions lists the inbound topics.
func (t Topics) Subscriptions() []string {
	return []string{t.Power, t.Config}
}

// ParsePower parses a setpoint and clamps it to 0..1.
func ParsePower(payload string) (float64, error) {
	p, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil || math.IsNaN(p) {
		return 0, fmt.Errorf("power setpoint %q is not a number: %w", payload, fanmon.ErrInvalidValue)
	}
	return math.Max(0, math.Min(1, p)), nil
}

func FormatPower(p float64) string {
	return strconv.FormatFloat(p, 'f', 3, 64)
}

// Handler applies inbound messages. It is used from the loop only.
type Handler struct {
	config *config.Manager
	motor  Motor
	pub    Publisher
	topics Topics
	log    *slog.Logger
}

func NewHandler(cfg *config.Manager, motor Motor, pub Publisher, topics Topics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{config: cfg, motor: motor, pub: pub, topics: topics, log: logger.With("component", "command")}
}

func (h *Handler) Topics() Topics {
	return h.topics
}

// Handle dispatches a message by topic. Messages on unknown topics are
// ignored.
func (h *Handler) Handle(ctx context.Context, m Message) {
	switch m.Topic {
	case h.topics.Power:
		h.handlePower(ctx, string(m.Payload))
	case h.topics.Config:
		ack := h.Configure(m.Payload)
		h.publish(ctx, h.topics.ConfigStatus, ack)
	default:
		h.log.Debug("message on unexpected topic", "topic", m.Topic)
	}
}

func (h *Handler) handlePower(ctx context.Context, payload string) {
	p, err := ParsePower(payload)
	if err != nil {
		h.log.Warn("ignoring power command", "error", err)
		return
	}
	if err := h.motor.SetPower(p); err != nil {
		h.log.Error("could not set motor power", "power", p, "error", err)
		return
	}
	h.log.Info("motor power set", "power", p)
	h.PublishStatus(ctx)
}

// PublishStatus publishes the current power on the status topic.
func (h *Handler) PublishStatus(ctx context.Context) {
	h.publish(ctx, h.topics.PowerStatus, FormatPower(h.motor.Power()))
}

func (h *Handler) publish(ctx context.Context, topic, payload string) {
	if h.pub == nil {
		return
	}
	if err := h.pub.Publish(ctx, topic, []byte(payload)); err != nil {
		h.log.Debug("publish failed", "topic", topic, "error", err)
	}
}
