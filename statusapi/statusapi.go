// Package statusapi serves a read-only local view of the device over HTTP.
// Handlers never touch hardware; they read snapshots published by the loop.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/mklimuk/fanmon/config"
	"github.com/mklimuk/fanmon/motor"
	"github.com/mklimuk/fanmon/sensor"
	"github.com/mklimuk/fanmon/telemetry"
)

const httpTimeout = 5 * time.Second

type SensorInfo struct {
	Type        string `json:"type"`
	Measurement string `json:"measurement"`
	Bus         uint8  `json:"bus"`
	Address     string `json:"address"`
	Serial      string `json:"serial,omitempty"`
	Name        string `json:"name,omitempty"`
	Connected   bool   `json:"connected"`
}

// SensorsFrom describes every instance of the collection. It probes each
// instance and must run on the loop.
func SensorsFrom(ctx context.Context, c *sensor.Collection) []SensorInfo {
	all := c.All()
	out := make([]SensorInfo, 0, len(all))
	for _, inst := range all {
		info := SensorInfo{
			Type:        inst.TypeName(),
			Measurement: inst.Measurement(),
			Bus:         inst.BusID(),
			Address:     fmt.Sprintf("0x%02x", inst.Address()),
			Name:        inst.Name(),
			Connected:   inst.IsConnected(ctx),
		}
		if s, ok := inst.Serial(); ok {
			info.Serial = fmt.Sprintf("%x", s)
		}
		out = append(out, info)
	}
	return out
}

type Health struct {
	UptimeMS      int64         `json:"uptime_ms"`
	Motor         motor.Status  `json:"motor"`
	MQTTConnected bool          `json:"mqtt_connected"`
	Fault         bool          `json:"fault"`
	Uptime        time.Duration `json:"-"`
}

// State holds the snapshots served by the API.
type State struct {
	mx       sync.RWMutex
	sensors  []SensorInfo
	readings []telemetry.Record
	config   config.DeviceConfig
	health   Health
}

func (s *State) SetSensors(v []SensorInfo) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.sensors = v
}

func (s *State) SetReadings(v []telemetry.Record) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.readings = v
}

// SetConfig stores the masked form of c.
func (s *State) SetConfig(c config.DeviceConfig) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.config = c.Masked()
}

func (s *State) SetHealth(h Health) {
	h.UptimeMS = h.Uptime.Milliseconds()
	s.mx.Lock()
	defer s.mx.Unlock()
	s.health = h
}

func (s *State) Sensors() []SensorInfo {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.sensors
}

func (s *State) Readings() []telemetry.Record {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.readings
}

func (s *State) Config() config.DeviceConfig {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.config
}

func (s *State) Health() Health {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.health
}

// Router returns the API routes.
func Router(s *State) http.Handler {
	r := httprouter.New()
	r.GET("/sensors", s.handleSensors)
	r.GET("/readings", s.handleReadings)
	r.GET("/config", s.handleConfig)
	r.GET("/health", s.handleHealth)
	return r
}

func (s *State) handleSensors(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	v := s.Sensors()
	if v == nil {
		v = []SensorInfo{}
	}
	writeJSON(w, v)
}

// handleReadings keeps float fields as floats, so it uses the telemetry
// encoder rather than encoding/json.
func (s *State) handleReadings(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(telemetry.Encode(s.Readings()))
}

func (s *State) handleConfig(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, s.Config())
}

func (s *State) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, s.Health())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Server runs the API on its own goroutine.
type Server struct {
	srv  *http.Server
	log  *slog.Logger
	errs chan error
}

func NewServer(addr string, s *State, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           Router(s),
			ReadTimeout:       httpTimeout,
			ReadHeaderTimeout: httpTimeout,
			WriteTimeout:      httpTimeout,
			IdleTimeout:       2 * httpTimeout,
		},
		log:  logger.With("component", "statusapi"),
		errs: make(chan error, 1),
	}
}

func (s *Server) Start() {
	go func() {
		s.log.Info("status api listening", "addr", s.srv.Addr)
		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status api stopped", "error", err)
		}
		s.errs <- err
	}()
}

// Errors delivers the serve error once the server stopped.
func (s *Server) Errors() <-chan error {
	return s.errs
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
