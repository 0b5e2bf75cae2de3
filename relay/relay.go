// Package relay mirrors received messages to an MQTT broker and can feed broker messages back into
// the transmitter.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/jrwynneiii/sonictext/session"
)

var ErrNotConnected = errors.New("relay: not connected to broker")

type Conf struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	Topic     string
	SendTopic string
	QoS       byte
	Retain    bool
	Station   string
	Timeout   time.Duration
}

// Message is the JSON document published for every received transmission.
type Message struct {
	ID        string `json:"id"`
	Station   string `json:"station,omitempty"`
	Text      string `json:"text"`
	Notice    bool   `json:"notice,omitempty"`
	Flags     int    `json:"flags"`
	Length    int    `json:"frame_length"`
	Corrected int    `json:"corrected,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func NewMessage(station string, m session.Message) Message {
	return Message{
		ID:        uuid.NewString(),
		Station:   station,
		Text:      m.Text,
		Notice:    m.Notice,
		Flags:     int(m.Stats.Flags),
		Length:    m.Stats.FrameLength,
		Corrected: m.Stats.Corrected,
		Timestamp: m.Received.Unix(),
	}
}

type Publisher struct {
	client mqtt.Client
	conf   Conf
}

// Connect dials the broker and keeps reconnecting in the background.
func Connect(conf Conf) (*Publisher, error) {
	if conf.ClientID == "" {
		conf.ClientID = "sonictext_" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(conf.Broker)
	opts.SetClientID(conf.ClientID)
	if conf.Username != "" {
		opts.SetUsername(conf.Username)
	}
	if conf.Password != "" {
		opts.SetPassword(conf.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("[relay] connected to %s", conf.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("[relay] connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout(conf)) {
		log.Warnf("[relay] broker %s not reachable yet, retrying in the background", conf.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return newPublisher(client, conf), nil
}

func newPublisher(client mqtt.Client, conf Conf) *Publisher {
	if conf.Topic == "" {
		conf.Topic = "sonictext/received"
	}
	return &Publisher{client: client, conf: conf}
}

func timeout(conf Conf) time.Duration {
	if conf.Timeout > 0 {
		return conf.Timeout
	}
	return 5 * time.Second
}

func (p *Publisher) Publish(m session.Message) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(NewMessage(p.conf.Station, m))
	if err != nil {
		return err
	}
	token := p.client.Publish(p.conf.Topic, p.conf.QoS, p.conf.Retain, payload)
	if !token.WaitTimeout(timeout(p.conf)) {
		return fmt.Errorf("relay: publish to %s timed out", p.conf.Topic)
	}
	return token.Error()
}

// Handle publishes m and logs failures. It fits session.Options.OnMessage.
func (p *Publisher) Handle(m session.Message) {
	if err := p.Publish(m); err != nil {
		log.Errorf("[relay] %v", err)
		return
	}
	log.Debugf("[relay] published %q to %s", m.Text, p.conf.Topic)
}

// Subscribe calls send with the text of every message on the send topic. Payloads may be plain text
// or a JSON Message.
func (p *Publisher) Subscribe(send func(text string)) error {
	if p.conf.SendTopic == "" {
		return nil
	}
	token := p.client.Subscribe(p.conf.SendTopic, p.conf.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		send(textOf(msg.Payload()))
	})
	if !token.WaitTimeout(timeout(p.conf)) {
		return fmt.Errorf("relay: subscribe to %s timed out", p.conf.SendTopic)
	}
	if err := token.Error(); err != nil {
		return err
	}
	log.Infof("[relay] transmitting messages from %s", p.conf.SendTopic)
	return nil
}

func textOf(payload []byte) string {
	var m Message
	if err := json.Unmarshal(payload, &m); err == nil && m.Text != "" {
		return m.Text
	}
	return string(payload)
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
