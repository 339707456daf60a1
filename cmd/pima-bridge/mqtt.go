package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	pima "github.com/caarlos0/pima-bridge"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttRetryInterval  = 5 * time.Second
	mqttQoS            = 1
	mqttQueueSize      = 16
)

// mqttBridge publishes panel state to <topic>/status and availability to
// <topic>/LWT, and takes arm requests from <topic>/arm. Arm requests are
// handled one at a time, in the order they arrive.
type mqttBridge struct {
	client        paho.Client
	alarm         Alarm
	topic         string
	disableDisarm bool
	online        atomic.Bool

	requests chan []byte
	quit     chan struct{}
	done     chan struct{}
	stop     sync.Once
}

func newMQTTBridge(cfg Config, alarm Alarm) *mqttBridge {
	b := &mqttBridge{
		alarm:         alarm,
		topic:         cfg.MQTTTopic,
		disableDisarm: cfg.DisableDisarm,
	}
	b.online.Store(true)
	b.start()

	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "pima-bridge-" + uuid.NewString()[:8]
	}

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTHost, cfg.MQTTPort)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(mqttRetryInterval).
		SetWill(b.lwtTopic(), "offline", mqttQoS, true).
		SetOnConnectHandler(func(c paho.Client) {
			log.Info("mqtt connected", "client-id", clientID)
			b.publishAvailability(b.online.Load())
			token := c.Subscribe(b.armTopic(), mqttQoS, func(_ paho.Client, m paho.Message) {
				b.enqueue(m.Payload())
			})
			go func() {
				if token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
					log.Error("could not subscribe", "topic", b.armTopic(), "err", token.Error())
				}
			}()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("mqtt connection lost", "err", err)
		})

	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	b.client = paho.NewClient(opts)
	return b
}

func (b *mqttBridge) Connect() {
	log.Info("connecting to mqtt broker", "topic", b.topic)
	token := b.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		log.Warn("mqtt broker not reachable yet, retrying in the background")
		return
	}
	if err := token.Error(); err != nil {
		log.Error("could not connect to mqtt broker", "err", err)
	}
}

// Close waits for the arm request in flight, drops the queued ones and
// disconnects from the broker.
func (b *mqttBridge) Close() {
	b.stop.Do(func() { close(b.quit) })
	<-b.done
	b.publishAvailability(false)
	b.client.Disconnect(1000)
}

// start runs the worker handling arm requests off the paho router goroutine,
// arming takes a while.
func (b *mqttBridge) start() {
	b.requests = make(chan []byte, mqttQueueSize)
	b.quit = make(chan struct{})
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		for {
			select {
			case <-b.quit:
				return
			case payload := <-b.requests:
				b.handleArm(payload)
			}
		}
	}()
}

func (b *mqttBridge) enqueue(payload []byte) {
	select {
	case <-b.quit:
		log.Warn("mqtt bridge closed, ignoring arm request")
	case b.requests <- payload:
	default:
		log.Error("too many pending arm requests, ignoring", "pending", len(b.requests))
	}
}

func (b *mqttBridge) statusTopic() string { return path.Join(b.topic, "status") }
func (b *mqttBridge) armTopic() string    { return path.Join(b.topic, "arm") }
func (b *mqttBridge) lwtTopic() string    { return path.Join(b.topic, "LWT") }

func (b *mqttBridge) PublishStatus(state pima.AlarmState) {
	b.publishJSON(state)
}

func (b *mqttBridge) PublishAvailability(online bool) {
	b.online.Store(online)
	b.publishAvailability(online)
}

func (b *mqttBridge) publishAvailability(online bool) {
	payload := "offline"
	if online {
		payload = "online"
	}
	b.publish(b.lwtTopic(), true, []byte(payload))
}

func (b *mqttBridge) publishJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error("could not marshal mqtt payload", "err", err)
		return
	}
	b.publish(b.statusTopic(), false, payload)
}

func (b *mqttBridge) publish(topic string, retained bool, payload []byte) {
	if !b.client.IsConnected() {
		log.Debug("mqtt not connected, dropping message", "topic", topic)
		return
	}
	token := b.client.Publish(topic, mqttQoS, retained, payload)
	go func() {
		if token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
			log.Error("could not publish", "topic", topic, "err", token.Error())
		}
	}()
}

func (b *mqttBridge) handleArm(payload []byte) {
	state, err := b.arm(payload)
	if err != nil {
		log.Error("mqtt arm request failed", "err", err)
		b.publishJSON(map[string]string{"error": err.Error()})
		return
	}
	b.publishJSON(state)
}

func (b *mqttBridge) arm(payload []byte) (pima.AlarmState, error) {
	req, err := decodeArmRequest(payload)
	if err != nil {
		return pima.AlarmState{}, err
	}
	mode, partitions, err := req.parse(b.disableDisarm)
	if err != nil {
		return pima.AlarmState{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), armTimeout)
	defer cancel()
	log.Info("arm requested over mqtt", "mode", mode, "partitions", partitions)
	return b.alarm.SetArmMode(ctx, mode, partitions)
}
