// Package server is a development stand-in for the telemetry and firmware
// endpoints the device talks to.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/mklimuk/fanmon/ota"
	"github.com/mklimuk/fanmon/telemetry"
	"github.com/samber/lo"
)

// DefaultRetain is the number of records kept for GET /records.
const DefaultRetain = 1000

type Options struct {
	// Latest is the firmware version devices should run. Devices reporting
	// any other version are told an update exists.
	Latest string
	Retain int
	// Forward receives every accepted record, typically an InfluxSink.
	Forward telemetry.Sink
	Logger  *slog.Logger
	// AccessLog enables the fiber request logger.
	AccessLog bool
}

type Server struct {
	app  *fiber.App
	opts Options
	log  *slog.Logger

	mx      sync.Mutex
	records []telemetry.Record
}

func New(o Options) *Server {
	if o.Retain <= 0 {
		o.Retain = DefaultRetain
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	app := fiber.New(fiber.Config{
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           time.Minute,
		AppName:               "fanmon collector",
		DisableStartupMessage: true,
	})
	if o.AccessLog {
		app.Use(logger.New())
	}
	s := &Server{app: app, opts: o, log: o.Logger.With("component", "collector")}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.app.Group("/particle")
	api.Post("/log", s.postLog)
	api.Post("/fw/update", s.postUpdate)
	s.app.Get("/records", s.getRecords)
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start(address string) error {
	return s.app.Listen(address)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) postLog(c *fiber.Ctx) error {
	records, err := telemetry.Decode(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	now := time.Now()
	for i := range records {
		records[i].Time = now
		r := records[i]
		s.log.Info("record", "measurement", r.Measurement, "device", r.Tag("device"), "fields", len(r.Fields))
	}
	s.store(records)
	if s.opts.Forward != nil {
		if err := s.forward(c.UserContext(), records); err != nil {
			s.log.Warn("forwarding failed", "records", len(records), "error", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) forward(ctx context.Context, records []telemetry.Record) error {
	b := telemetry.NewBatch(len(records) * telemetry.DefaultBatchLimit)
	for _, r := range records {
		if err := b.Add(r); err != nil {
			return err
		}
	}
	return s.opts.Forward.Send(ctx, b)
}

func (s *Server) store(records []telemetry.Record) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.records = append(s.records, records...)
	if over := len(s.records) - s.opts.Retain; over > 0 {
		s.records = append([]telemetry.Record(nil), s.records[over:]...)
	}
}

// postUpdate answers with the bare True/False body the device expects.
func (s *Server) postUpdate(c *fiber.Ctx) error {
	var req ota.Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).SendString(err.Error())
	}
	available := s.opts.Latest != "" && req.Version != s.opts.Latest
	s.log.Info("update check", "id", req.ID, "version", req.Version, "available", available)
	if available {
		return c.SendString("True")
	}
	return c.SendString("False")
}

// getRecords returns the retained records, optionally filtered by the
// device and measurement query parameters.
func (s *Server) getRecords(c *fiber.Ctx) error {
	device, measurement := c.Query("device"), c.Query("measurement")
	s.mx.Lock()
	res := lo.Filter(s.records, func(r telemetry.Record, _ int) bool {
		return (device == "" || r.Tag("device") == device) && (measurement == "" || r.Measurement == measurement)
	})
	s.mx.Unlock()
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(telemetry.Encode(res))
}
