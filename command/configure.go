package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	CmdSetDeviceName   = "set_device_name"
	CmdSetWiFi         = "set_wifi"
	CmdSetMQTTServer   = "set_mqtt_server"
	CmdSetMQTTTopics   = "set_mqtt_topics"
	CmdSetAPIEndpoints = "set_api_endpoints"
	CmdPrintConfig     = "print_config"
	CmdResetConfig     = "reset_config"
)

const restartRequired = " (restart required)"

var errMissing = errors.New("missing field")

// Request is a config command. Fields unused by a command are ignored.
type Request struct {
	Cmd      string `json:"cmd"`
	Name     string `json:"name,omitempty"`
	Index    *int   `json:"index,omitempty"`
	SSID     string `json:"ssid,omitempty"`
	Password string `json:"password,omitempty"`
	Server   string `json:"server,omitempty"`
	Port     *int   `json:"port,omitempty"`
	Command  string `json:"command,omitempty"`
	Status   string `json:"status,omitempty"`
	InfluxDB string `json:"influxdb,omitempty"`
	Firmware string `json:"firmware,omitempty"`
}

// Configure applies a config command and returns the ack text.
func (h *Handler) Configure(payload []byte) string {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		h.log.Warn("malformed config command", "error", err)
		return "ERROR: invalid JSON: " + err.Error()
	}
	msg, err := h.apply(req)
	if err != nil {
		h.log.Warn("config command failed", "cmd", req.Cmd, "error", err)
		return "ERROR: " + err.Error()
	}
	h.log.Info("config command applied", "cmd", req.Cmd)
	return "OK: " + msg
}

func (h *Handler) apply(req Request) (string, error) {
	switch req.Cmd {
	case CmdSetDeviceName:
		if err := h.config.SetDeviceName(req.Name); err != nil {
			return "", err
		}
		return "device name set to " + req.Name, nil
	case CmdSetWiFi:
		if req.Index == nil {
			return "", fmt.Errorf("index: %w", errMissing)
		}
		if err := h.config.SetWiFi(*req.Index, req.SSID, req.Password); err != nil {
			return "", err
		}
		return fmt.Sprintf("wifi %d set to %s", *req.Index, req.SSID) + restartRequired, nil
	case CmdSetMQTTServer:
		port := 1883
		if req.Port != nil {
			port = *req.Port
		}
		if err := h.config.SetMQTTServer(req.Server, port); err != nil {
			return "", err
		}
		return fmt.Sprintf("mqtt server set to %s:%d", req.Server, port) + restartRequired, nil
	case CmdSetMQTTTopics:
		if err := h.config.SetMQTTTopics(req.Command, req.Status); err != nil {
			return "", err
		}
		return fmt.Sprintf("mqtt topics set to %s, %s", req.Command, req.Status) + restartRequired, nil
	case CmdSetAPIEndpoints:
		if err := h.config.SetAPIEndpoints(req.InfluxDB, req.Firmware); err != nil {
			return "", err
		}
		return "api endpoints set", nil
	case CmdPrintConfig:
		var buf bytes.Buffer
		h.config.Print(&buf)
		h.log.Info("device config\n" + buf.String())
		out, err := json.Marshal(h.config.Get().Masked())
		if err != nil {
			return "", err
		}
		return string(out), nil
	case CmdResetConfig:
		if err := h.config.Reset(); err != nil {
			return "", err
		}
		return "config reset to defaults" + restartRequired, nil
	case "":
		return "", fmt.Errorf("cmd: %w", errMissing)
	}
	return "", fmt.Errorf("unknown command %q", strings.TrimSpace(req.Cmd))
}
