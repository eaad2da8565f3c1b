package config

// Config is the full relay configuration.
//
// Files may be YAML or JSON (YAML is coerced to JSON before strict decoding).
// All durations are Go duration strings (e.g. "500ms", "5s", "1m").
type Config struct {
	HTTP        HTTPConfig        `json:"http"`
	Redis       RedisConfig       `json:"redis"`
	Credentials CredentialsConfig `json:"credentials"`
	Drain       DrainConfig       `json:"drain"`
	Deliver     DeliverConfig     `json:"deliver"`
	Logging     LoggingConfig     `json:"logging"`
}

// HTTPConfig controls the ingestion HTTP server.
type HTTPConfig struct {
	Addr            string `json:"addr,omitempty"`             // default ":8080"
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"` // default "5s"
}

// RedisConfig controls the shared Redis handle used by the buffer store and
// the dispatch stream.
//
// ConnectAttempts/ConnectBackoff describe the fixed-backoff connect retry
// applied once at startup (and on explicit reconnect), not per operation.
type RedisConfig struct {
	Addr            string `json:"addr,omitempty"` // default "localhost:6379"
	DB              int    `json:"db,omitempty"`
	Password        string `json:"password,omitempty"`
	ConnectAttempts int    `json:"connect_attempts,omitempty"` // default 5
	ConnectBackoff  string `json:"connect_backoff,omitempty"`  // default "2s"
}

// CredentialsConfig points at the read-only credential database consumed by
// the gate. Key provisioning/rotation happens elsewhere.
type CredentialsConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite busy_timeout
}

// DrainConfig controls the periodic buffer drain.
type DrainConfig struct {
	Interval  string `json:"interval,omitempty"`   // default "5s"
	BatchSize int    `json:"batch_size,omitempty"` // default 5
	ScanLimit int    `json:"scan_limit,omitempty"` // default 256 keys per cycle
}

// DeliverConfig controls the dispatch-queue subscribers.
type DeliverConfig struct {
	Workers         int    `json:"workers,omitempty"`          // default 2
	RatePerSec      int    `json:"rate_per_sec,omitempty"`     // provider send cap, default 25
	Stream          string `json:"stream,omitempty"`           // default "telegram:messages"
	Group           string `json:"group,omitempty"`            // default "relay"
	ProviderTimeout string `json:"provider_timeout,omitempty"` // default "10s"
	RedeliveryIdle  string `json:"redelivery_idle,omitempty"`  // default "30s"
	APIURL          string `json:"api_url,omitempty"`          // Bot API override (self-hosted server)
}

// LoggingConfig mirrors logx.Config.
type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}
