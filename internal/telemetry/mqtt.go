// Package telemetry publishes game lifecycle events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/tavolo-project/tavolo/internal/config"
	"github.com/tavolo-project/tavolo/internal/events"
	"github.com/tavolo-project/tavolo/internal/util"
)

// MQTT topic suffixes, appended to the configured topic base.
const (
	TopicStatus  = "status"
	TopicGame    = "game"
	TopicPlayers = "players"
)

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client

	topicBase string

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplication().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"app_version": "1.0.0",
	}

	topicBase := mqttCfg.TopicBase
	if topicBase == "" {
		topicBase = "tavolo"
	}

	handler := &MQTTHandler{
		cfg:       cfg,
		eventBus:  eventBus,
		topicBase: topicBase,
		metadata:  metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("tavolo-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker and subscribes to events. Blocks until
// the context is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplication().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.publishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventGameStarted, "mqtt.gameStarted", h.onGameEvent)
	h.eventBus.Subscribe(events.EventGameEnded, "mqtt.gameEnded", h.onGameEvent)
	h.eventBus.Subscribe(events.EventPlayerJoined, "mqtt.playerJoined", h.onPlayerEvent)
	h.eventBus.Subscribe(events.EventPlayerRejoined, "mqtt.playerRejoined", h.onPlayerEvent)
	h.eventBus.Subscribe(events.EventPlayerOffline, "mqtt.playerOffline", h.onPlayerEvent)
	h.eventBus.Subscribe(events.EventPlayerLeft, "mqtt.playerLeft", h.onPlayerEvent)
	h.eventBus.Subscribe(events.EventPlayerKicked, "mqtt.playerKicked", h.onPlayerEvent)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	fullTopic := h.topicBase + "/" + topic
	token := h.client.Publish(fullTopic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", fullTopic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

func (h *MQTTHandler) onGameEvent(ctx context.Context, event events.Event) error {
	h.publish(TopicGame, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onPlayerEvent(ctx context.Context, event events.Event) error {
	h.publish(TopicPlayers, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

// publishShutdown sends a final status message before disconnecting.
func (h *MQTTHandler) publishShutdown() {
	h.publish(TopicStatus, map[string]interface{}{
		"event": "shutdown",
	})
}
