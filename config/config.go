// Package config is the process-wide Configuration record for relay,
// generalized from Boulder's cmd.Config/cmd.ServiceConfig/
// cmd.AMQPConfig shape. Like the teacher, it deliberately provides no
// defaults for values read from the on-disk file; defaults for unset
// values are applied where they are used (for example
// AMQPConfig.RPCTimeoutOrDefault).
package config

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration aliases time.Duration so it can serialize to JSON or YAML
// as a human string ("5s") rather than a raw integer of nanoseconds —
// the same role Boulder's ConfigDuration plays.
type Duration struct {
	time.Duration
}

var errDurationMustBeString = errors.New("cannot unmarshal something other than a string into a Duration")

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return errDurationMustBeString
		}
		return err
	}
	dd, err := time.ParseDuration(s)
	d.Duration = dd
	return err
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// Secret is a string-valued config field. If its value starts with
// "secret:", the real value is read from the file path that follows,
// with trailing newlines trimmed — the same convention as Boulder's
// ConfigSecret, so host deployments can keep credentials out of the
// config file itself.
type Secret string

const secretPrefix = "secret:"

func (s *Secret) resolve(raw string) error {
	if !strings.HasPrefix(raw, secretPrefix) {
		*s = Secret(raw)
		return nil
	}
	contents, err := os.ReadFile(raw[len(secretPrefix):])
	if err != nil {
		return err
	}
	*s = Secret(strings.TrimRight(string(contents), "\n"))
	return nil
}

func (s *Secret) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return s.resolve(raw)
}

func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return s.resolve(raw)
}

// TLSConfig carries certificate/key/CA paths for an AMQPS connection,
// mirroring Boulder's cmd.TLSConfig.
type TLSConfig struct {
	CertFile   *string
	KeyFile    *string
	CACertFile *string
}

// AMQPConfig describes how to connect to the broker. Dial reads Server,
// Insecure and TLS; Username, Password, Vhost, AutomaticallyRecover,
// NetworkRecoveryInterval, the connection/read/write/heartbeat/
// continuation timeouts and HealthCheckFile are carried in the record
// but not read by any package in this module.
type AMQPConfig struct {
	Server   Secret
	Insecure bool
	Username string
	Password string
	Vhost    string
	TLS      *TLSConfig

	AutomaticallyRecover    bool
	NetworkRecoveryInterval Duration
	ConnectionTimeout       Duration
	ReadTimeout             Duration
	WriteTimeout            Duration
	Heartbeat               Duration
	ContinuationTimeout     Duration

	ChannelPrefetch int

	RPCTimeout Duration

	HealthCheckInterval Duration
	HealthCheckFile     string

	ReconnectTimeouts struct {
		Base Duration
		Max  Duration
	}
}

// ExchangeOptions and QueueOptions mirror the broker declare-options
// bags spec.md §3 calls out as mergeable per call.
type ExchangeOptions struct {
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
}

type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
}

// ClassOverride is one entry in the per-class override chain spec.md
// §3/§8.8 describes: exchange, exchange type, resource name, routing
// key, param key, and which named connection pool to use.
type ClassOverride struct {
	Parent           string // name of the class this one inherits overrides from, "" if none
	Exchange         string
	ExchangeType     string
	ResourceName     string
	RoutingKey       string
	ParamKey         string
	ConnectionPool   string
}

// Config is the top-level, process-wide configuration record.
type Config struct {
	AMQP *AMQPConfig

	ControllerNamespace string

	DefaultExchangeOptions ExchangeOptions
	DefaultQueueOptions    QueueOptions

	ClassOverrides map[string]*ClassOverride
}

// Load reads a Config from a JSON or YAML file, chosen by extension
// (".yaml"/".yml" selects YAML, anything else JSON) — matching the
// teacher's plain encoding/json reads elsewhere in cmd/, generalized
// to accept either syntax since relay's go.mod also carries
// gopkg.in/yaml.v3.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		err = yaml.Unmarshal(data, &c)
	} else {
		err = json.Unmarshal(data, &c)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Override walks the declared parent chain for class, starting from
// the most specific override and falling back to its parent's fields
// whenever a field is left at its zero value. It never follows Go
// struct/interface inheritance — only the Parent chain declared in
// the config file, per spec.md §9's design note.
func (c *Config) Override(class string) *ClassOverride {
	var merged ClassOverride
	seen := map[string]bool{}
	name := class
	for name != "" && !seen[name] {
		seen[name] = true
		co, ok := c.ClassOverrides[name]
		if !ok {
			break
		}
		if merged.Exchange == "" {
			merged.Exchange = co.Exchange
		}
		if merged.ExchangeType == "" {
			merged.ExchangeType = co.ExchangeType
		}
		if merged.ResourceName == "" {
			merged.ResourceName = co.ResourceName
		}
		if merged.RoutingKey == "" {
			merged.RoutingKey = co.RoutingKey
		}
		if merged.ParamKey == "" {
			merged.ParamKey = co.ParamKey
		}
		if merged.ConnectionPool == "" {
			merged.ConnectionPool = co.ConnectionPool
		}
		name = co.Parent
	}
	return &merged
}

// RPCTimeoutOrDefault returns the configured RPC timeout, falling back
// to 30s if unset (Boulder's AmqpRPCCLient defaults to 10s; relay's
// default direct-reply round trip is usually faster than a temp-queue
// RPC so 30s is a generous backstop, not a tuned value).
func (c *AMQPConfig) RPCTimeoutOrDefault() time.Duration {
	if c.RPCTimeout.Duration > 0 {
		return c.RPCTimeout.Duration
	}
	return 30 * time.Second
}
