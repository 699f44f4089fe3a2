package config

import "time"

// Config is the root configuration for a creditwatch instance.
type Config struct {
	API          APIConfig          `yaml:"api"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Reconnect    ReconnectConfig    `yaml:"reconnect"`
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat"`
	Balance      BalanceConfig      `yaml:"balance"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Log          LogConfig          `yaml:"log"`
	Health       HealthConfig       `yaml:"health"`
}

// APIConfig holds calling API settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"` // Defaults to rest_url; http(s) is rewritten to ws(s)
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// SubscriptionConfig identifies whose credits are streamed.
type SubscriptionConfig struct {
	SubscriberID string `yaml:"subscriber_id"`
}

// ReconnectConfig holds the backoff policy.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// HeartbeatConfig holds keep-alive settings. A zero PongTimeout disables
// silence detection.
type HeartbeatConfig struct {
	Interval    time.Duration `yaml:"interval"`
	PongTimeout time.Duration `yaml:"pong_timeout"`
}

// BalanceConfig holds balance tracker settings.
type BalanceConfig struct {
	ReconcileMinInterval time.Duration `yaml:"reconcile_min_interval"`
	QueueLength          int           `yaml:"queue_length"`
	PollInterval         time.Duration `yaml:"poll_interval"` // Fallback REST poll while the stream is down
	PollTimeout          time.Duration `yaml:"poll_timeout"`
}

// LedgerConfig holds the optional Postgres ledger.
type LedgerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
