// Package publisher announces newly stored rows over MQTT.  Publishing is
// strictly best-effort: the database is the system of record, and a publish
// failure never affects what was persisted.
package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/ups-pglog/internal/store"
)

// Message is a single MQTT publish request.
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}

// Publisher is the minimal interface the rest of the codebase uses to send
// MQTT messages. The real MQTT client and FakePublisher both implement it.
type Publisher interface {
	Publish(msg Message) error
	Close() error
}

// PublishConfig groups the MQTT routing parameters so callers don't need to
// thread three separate arguments through every function.
type PublishConfig struct {
	Prefix   string
	UPSName  string
	Retained bool
}

// ObservationMessage is the JSON payload published for each stored
// observation.  Optional fields are omitted when the report lacked them.
type ObservationMessage struct {
	Timestamp      string   `json:"timestamp"`
	UPSName        string   `json:"ups_name"`
	Status         string   `json:"status,omitempty"`
	LineVoltage    *float64 `json:"line_voltage,omitempty"`
	BatteryVoltage *float64 `json:"battery_voltage,omitempty"`
	LoadWatts      *float64 `json:"load_watts,omitempty"`
	BatteryCharge  *float64 `json:"battery_charge_pct,omitempty"`
	TimeLeft       *float64 `json:"time_left_mins,omitempty"`
	OnBattery      bool     `json:"on_battery"`
}

// TransferMessage is the JSON payload published for each stored transfer
// event.
type TransferMessage struct {
	Timestamp string `json:"timestamp"`
	UPSName   string `json:"ups_name"`
	ToBattery bool   `json:"to_battery"`
	Reason    string `json:"reason,omitempty"`
}

// OnlineState is the LWT / availability payload.
type OnlineState struct {
	Online    bool   `json:"online"`
	Timestamp string `json:"timestamp"`
}

// ObservationTopic returns the topic observations are announced on.
func ObservationTopic(prefix, upsName string) string {
	return fmt.Sprintf("%s/%s/observation", prefix, upsName)
}

// TransferTopic returns the topic transfer events are announced on.
func TransferTopic(prefix, upsName string) string {
	return fmt.Sprintf("%s/%s/transfer", prefix, upsName)
}

// AvailabilityTopic returns the topic for the availability/LWT message.
func AvailabilityTopic(prefix, upsName string) string {
	return fmt.Sprintf("%s/%s/availability", prefix, upsName)
}

// PublishObservation announces one stored observation row.
func PublishObservation(obs store.Observation, cfg PublishConfig, pub Publisher) error {
	msg := ObservationMessage{
		Timestamp:      obs.Timestamp.UTC().Format(time.RFC3339),
		UPSName:        cfg.UPSName,
		Status:         obs.Status,
		LineVoltage:    obs.LineVoltage,
		BatteryVoltage: obs.BatteryVoltage,
		LoadWatts:      obs.LoadWatts,
		BatteryCharge:  obs.BatteryCharge,
		TimeLeft:       obs.TimeLeft,
		OnBattery:      obs.OnBattery,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling observation: %w", err)
	}
	return pub.Publish(Message{
		Topic:    ObservationTopic(cfg.Prefix, cfg.UPSName),
		Payload:  string(payload),
		Retained: cfg.Retained,
	})
}

// PublishTransfer announces one stored transfer event row.
func PublishTransfer(tr store.Transfer, cfg PublishConfig, pub Publisher) error {
	msg := TransferMessage{
		Timestamp: tr.Timestamp.UTC().Format(time.RFC3339),
		UPSName:   cfg.UPSName,
		ToBattery: tr.ToBattery,
		Reason:    tr.Reason,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling transfer: %w", err)
	}
	return pub.Publish(Message{
		Topic:    TransferTopic(cfg.Prefix, cfg.UPSName),
		Payload:  string(payload),
		Retained: cfg.Retained,
	})
}

// FormatOnline returns the JSON payload for the online announcement.
func FormatOnline() string {
	payload, _ := json.Marshal(OnlineState{
		Online:    true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(payload)
}

// FormatOffline returns the JSON payload for the offline announcement.
func FormatOffline() string {
	payload, _ := json.Marshal(OnlineState{
		Online:    false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(payload)
}
