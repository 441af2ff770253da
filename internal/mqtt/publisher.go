// Package mqtt provides a publish-only MQTT client that mirrors completed
// run summaries to a broker for consumption by external dashboards. It wraps
// the Eclipse Paho library, handles automatic reconnection, and supports
// optional TLS transport. Publishing is best-effort: a broker outage never
// fails a generation request.
package mqtt

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"qrng-lab/internal/metrics"
	"qrng-lab/internal/run"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Config holds the parameters required to connect to an MQTT broker and
// publish run summaries to a topic.
type Config struct {
	BrokerURL string // e.g., "tcp://127.0.0.1:1883" or "ssl://mqtt.example.com:8883"
	Topic     string // topic for run summaries, e.g., "qrng/runs"
	ClientID  string // optional; if empty, a random ID is generated
	QoS       byte   // 0 or 1
	Username  string // optional; MQTT username for authentication
	Password  string // optional; MQTT password for authentication
	TLSCAFile string // optional; path to CA certificate file for TLS verification
}

// Publisher is a publish-only MQTT client built on the Eclipse Paho library.
type Publisher struct {
	config     Config
	pahoClient paho.Client
}

// runSummary is the wire form of a completed run published to the broker.
// The sequence itself is not mirrored; consumers fetch it over the HTTP API.
type runSummary struct {
	RunID       string    `json:"run_id"`
	BitWidth    int       `json:"bit_width"`
	SampleCount int       `json:"sample_count"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"std_dev"`
	ChiSquare   float64   `json:"chi_square"`
	PValue      float64   `json:"p_value"`
	Uniform     bool      `json:"uniform"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewPublisher validates the configuration and constructs an MQTT publisher.
// The underlying Paho client is created but the TCP connection is not opened
// until Connect is called. When ClientID is empty a random UUID-based
// identifier is generated.
func NewPublisher(config Config) (*Publisher, error) {
	if config.BrokerURL == "" {
		return nil, errors.New("mqtt: BrokerURL required")
	}
	if config.Topic == "" {
		return nil, errors.New("mqtt: Topic required")
	}
	if config.ClientID == "" {
		generatedID, err := generateClientID()
		if err != nil {
			return nil, fmt.Errorf("mqtt: generate client id: %w", err)
		}
		config.ClientID = generatedID
	}
	if config.QoS > 1 {
		config.QoS = 1
	}

	publisher := &Publisher{config: config}

	opts := paho.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetKeepAlive(20 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			metrics.SetMQTTConnected(true)
			log.Printf("mqtt: connected -> %s (topic=%s, QoS=%d)",
				config.BrokerURL, config.Topic, config.QoS)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			metrics.SetMQTTConnected(false)
			metrics.RecordMQTTDisconnect()
			if err != nil {
				log.Printf("mqtt: connection lost: %v", err)
			} else {
				log.Printf("mqtt: connection lost (reason unknown)")
			}
		})

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	if isTLSBroker(config.BrokerURL) {
		tlsConfig, err := createTLSConfig(config)
		if err != nil {
			return nil, fmt.Errorf("mqtt: TLS configuration failed: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	publisher.pahoClient = paho.NewClient(opts)
	return publisher, nil
}

// Connect opens the TCP connection and blocks until the broker accepts it or
// a ten-second timeout elapses.
func (p *Publisher) Connect() error {
	if p.pahoClient == nil {
		return errors.New("mqtt: publisher not initialized")
	}

	token := p.pahoClient.Connect()
	if !token.WaitTimeout(connectTimeout) {
		metrics.SetMQTTConnected(false)
		return errors.New("mqtt: connect timeout")
	}

	if err := token.Error(); err != nil {
		metrics.SetMQTTConnected(false)
		return fmt.Errorf("mqtt: connect failed: %w", err)
	}

	return nil
}

// Close disconnects from the broker with a 250 ms quiesce period.
func (p *Publisher) Close() {
	metrics.SetMQTTConnected(false)

	if p.pahoClient != nil && p.pahoClient.IsConnectionOpen() {
		metrics.RecordMQTTDisconnect()
		p.pahoClient.Disconnect(250) // ms
	}
}

// PublishRun serialises the record's summary and publishes it to the
// configured topic. Failures are logged and counted, never returned: the
// pipeline result is already committed by the time the summary is mirrored.
func (p *Publisher) PublishRun(record run.Record) {
	summary := runSummary{
		RunID:       record.ID,
		BitWidth:    record.BitWidth,
		SampleCount: record.SampleCount,
		Mean:        record.Statistics.Mean,
		StdDev:      record.Statistics.StdDev,
		ChiSquare:   record.ChiSquare.Statistic,
		PValue:      record.ChiSquare.PValue,
		Uniform:     record.Uniform,
		CreatedAt:   record.CreatedAt,
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		metrics.RecordMQTTPublish(false)
		log.Printf("mqtt: marshal run summary: %v", err)
		return
	}

	token := p.pahoClient.Publish(p.config.Topic, p.config.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		metrics.RecordMQTTPublish(false)
		log.Printf("mqtt: publish timeout (run=%s)", record.ID)
		return
	}

	if err := token.Error(); err != nil {
		metrics.RecordMQTTPublish(false)
		log.Printf("mqtt: publish failed (run=%s): %v", record.ID, err)
		return
	}

	metrics.RecordMQTTPublish(true)
}

// isTLSBroker reports whether the broker URL scheme implies a TLS transport.
func isTLSBroker(brokerURL string) bool {
	lower := strings.ToLower(brokerURL)
	return strings.HasPrefix(lower, "ssl://") ||
		strings.HasPrefix(lower, "tls://") ||
		strings.HasPrefix(lower, "mqtts://") ||
		strings.HasPrefix(lower, "tcps://")
}

// createTLSConfig builds a tls.Config using either the custom CA certificate
// specified in Config.TLSCAFile or the system certificate pool.
func createTLSConfig(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if config.TLSCAFile != "" {
		caCert, err := os.ReadFile(config.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}

		tlsConfig.RootCAs = caCertPool
		log.Printf("mqtt: using custom CA certificate from %s", config.TLSCAFile)
	} else {
		systemCAs, err := x509.SystemCertPool()
		if err != nil {
			log.Printf("mqtt: warning, failed to load system CA pool: %v, using empty pool", err)
			systemCAs = x509.NewCertPool()
		}
		tlsConfig.RootCAs = systemCAs
		log.Println("mqtt: using system CA certificate pool")
	}

	return tlsConfig, nil
}

// generateClientID produces a cryptographically random client identifier in
// the form "qrng-pub-<UUIDv4>".
func generateClientID() (string, error) {
	var uuid [16]byte
	if _, err := rand.Read(uuid[:]); err != nil {
		return "", err
	}

	uuid[6] = (uuid[6] & 0x0f) | 0x40 // version 4
	uuid[8] = (uuid[8] & 0x3f) | 0x80 // variant 10

	encoded := make([]byte, hex.EncodedLen(len(uuid)))
	hex.Encode(encoded, uuid[:])

	return fmt.Sprintf(
		"qrng-pub-%s-%s-%s-%s-%s",
		encoded[0:8],
		encoded[8:12],
		encoded[12:16],
		encoded[16:20],
		encoded[20:32],
	), nil
}
