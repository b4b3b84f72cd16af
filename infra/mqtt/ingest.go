// Package mqtt is the MQTT ingest adapter. Units on links where long-lived
// HTTPS is impractical publish the same report and startup payloads to the
// broker instead; the broker authenticates them via client certificates, so
// the topic's unit segment plays the role of the forwarded certificate CN.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/wodeewa/fleetd/core/ingest"
	"github.com/wodeewa/fleetd/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled      bool   `json:"enabled"`
	Broker       string `json:"broker"`
	ClientID     string `json:"client_id"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	ReportTopic  string `json:"report_topic"`
	StartupTopic string `json:"startup_topic"`
	QoS          byte   `json:"qos"`
	UseTLS       bool   `json:"use_tls"`
	ClientCert   string `json:"client_cert"`
	ClientKey    string `json:"client_key"`
	CABundle     string `json:"ca_bundle"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "fleetd-ingest"
	}
	if c.ReportTopic == "" {
		c.ReportTopic = "fleet/report/+"
	}
	if c.StartupTopic == "" {
		c.StartupTopic = "fleet/startup/+"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	return nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the
// config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Ingestor bridges broker messages into the ingest handler.
type Ingestor struct {
	cli    pahoClient
	ingest *ingest.Handler
	log    logger.Logger
	cfg    Config
}

// NewIngestor connects to the broker and subscribes to the report and
// startup topics. Subscriptions are re-established on every (re)connect.
func NewIngestor(cfg Config, in *ingest.Handler) (*Ingestor, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.New("mqtt_ingest")
	ing := &Ingestor{ingest: in, log: log, cfg: cfg}

	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Subscribe(cfg.ReportTopic, cfg.QoS, ing.onReport); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe %s: %v", cfg.ReportTopic, token.Error())
		}
		if token := c.Subscribe(cfg.StartupTopic, cfg.QoS, ing.onStartup); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe %s: %v", cfg.StartupTopic, token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	ing.cli = cli
	return ing, nil
}

// unitFromTopic extracts the unit identity from the final topic segment.
func unitFromTopic(topic string) string {
	idx := strings.LastIndexByte(topic, '/')
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}

func (i *Ingestor) onReport(_ paho.Client, msg paho.Message) {
	unit := unitFromTopic(msg.Topic())
	var rep ingest.Report
	if err := json.Unmarshal(msg.Payload(), &rep); err != nil {
		i.log.Errorf("invalid report payload; topic='%s': %v", msg.Topic(), err)
		return
	}
	if err := i.ingest.Report(context.Background(), unit, rep); err != nil {
		i.log.Errorf("report rejected; unit='%s': %v", unit, err)
	}
}

func (i *Ingestor) onStartup(_ paho.Client, msg paho.Message) {
	unit := unitFromTopic(msg.Topic())
	var body struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal(msg.Payload(), &body); err != nil {
		i.log.Errorf("invalid startup payload; topic='%s': %v", msg.Topic(), err)
		return
	}
	if err := i.ingest.Startup(context.Background(), unit, body.Nonce); err != nil {
		i.log.Errorf("startup rejected; unit='%s': %v", unit, err)
	}
}

// Close disconnects from the broker.
func (i *Ingestor) Close() {
	if i.cli != nil && i.cli.IsConnected() {
		i.cli.Disconnect(250)
	}
}
