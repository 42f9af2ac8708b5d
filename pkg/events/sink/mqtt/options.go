package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// TLSOptions holds TLS configuration for the broker connection
type TLSOptions struct {
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	ServerName         string `mapstructure:"server_name"`
	CAFile             string `mapstructure:"ca_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
}

// Config represents MQTT sink configuration
type Config struct {
	Servers     []string      `mapstructure:"servers"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	QoS         byte          `mapstructure:"qos"`
	Retained    bool          `mapstructure:"retained"`
	KeepAlive   time.Duration `mapstructure:"keep_alive"`
	// ConnectTimeout also bounds each publish.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	TLS            *TLSOptions   `mapstructure:"tls"`
}

func (c *Config) setDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{"tcp://127.0.0.1:1883"}
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "pgcrud"
	}
	if c.ClientID == "" {
		c.ClientID = "pgcrud-" + uuid.NewString()[:8]
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// Topic returns <prefix>/<schema>/<table>/<op>.
func (c Config) Topic(schema, table, op string) string {
	return c.TopicPrefix + "/" + schema + "/" + table + "/" + op
}

func (c Config) pahoOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	for _, server := range c.Servers {
		opts.AddBroker(server)
	}
	opts.SetClientID(c.ClientID)
	if c.Username != "" {
		opts.SetUsername(c.Username)
	}
	if c.Password != "" {
		opts.SetPassword(c.Password)
	}
	if c.KeepAlive > 0 {
		opts.SetKeepAlive(c.KeepAlive)
	}
	opts.SetConnectTimeout(c.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	if c.TLS != nil {
		tlsConfig, err := createTLSConfig(c.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}
	return opts, nil
}

func createTLSConfig(tlsOpts *TLSOptions) (*tls.Config, error) {
	config := &tls.Config{
		InsecureSkipVerify: tlsOpts.InsecureSkipVerify,
		ServerName:         tlsOpts.ServerName,
	}

	if tlsOpts.CAFile != "" {
		caCert, err := os.ReadFile(tlsOpts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = pool
	}

	if tlsOpts.CertFile != "" && tlsOpts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsOpts.CertFile, tlsOpts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}
