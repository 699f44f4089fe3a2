package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "https://calling-api.0804.in"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultReconnectMaxAttempts = 10
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconcileMinInterval = 5 * time.Second
	DefaultQueueLength          = 256
	DefaultPollInterval         = 1 * time.Minute
	DefaultPollTimeout          = 10 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 100
	DefaultFlushInterval        = 1 * time.Second
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultHealthPort           = 8080
)

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = c.API.RestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Reconnect defaults
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultReconnectMaxAttempts
	}

	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}

	// Balance defaults
	if c.Balance.ReconcileMinInterval == 0 {
		c.Balance.ReconcileMinInterval = DefaultReconcileMinInterval
	}
	if c.Balance.QueueLength == 0 {
		c.Balance.QueueLength = DefaultQueueLength
	}
	if c.Balance.PollInterval == 0 {
		c.Balance.PollInterval = DefaultPollInterval
	}
	if c.Balance.PollTimeout == 0 {
		c.Balance.PollTimeout = DefaultPollTimeout
	}

	// Ledger defaults
	applyDBDefaults(&c.Ledger.Database)
	if c.Ledger.BatchSize == 0 {
		c.Ledger.BatchSize = DefaultBatchSize
	}
	if c.Ledger.FlushInterval == 0 {
		c.Ledger.FlushInterval = DefaultFlushInterval
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
