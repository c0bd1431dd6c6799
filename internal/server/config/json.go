package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cmstack/mirrorsync/internal/flagx"
	"github.com/cmstack/mirrorsync/internal/timex"
)

// JsonConfig is the JSON-file DTO for Config. Interval fields use
// timex.Duration, which accepts both strings such as "30s" and integer
// nanoseconds. After unmarshalling, values are copied into the runtime
// Config.
type JsonConfig struct {
	EndpointAddrHTTP   string         `json:"endpoint_addr_http"`
	DatabaseDSN        string         `json:"database_dsn"`
	SecretKey          string         `json:"secret_key"`
	WorkerCount        int            `json:"worker_count"`
	ClaimBatchSize     int            `json:"claim_batch_size"`
	PollInterval       timex.Duration `json:"poll_interval"`
	HeartbeatInterval  timex.Duration `json:"heartbeat_interval"`
	LockTTL            timex.Duration `json:"lock_ttl"`
	SweepInterval      timex.Duration `json:"sweep_interval"`
	PullInterval       timex.Duration `json:"pull_interval"`
	PullRatePerSecond  float64        `json:"pull_rate_per_second"`
	PullBurst          int            `json:"pull_burst"`
	EchoWindow         timex.Duration `json:"echo_window"`
	MaxAttempts        int            `json:"max_attempts"`
	MediaMirrorEnabled bool           `json:"media_mirror_enabled"`
	S3RootUser         string         `json:"s3_root_user"`
	S3RootPassword     string         `json:"s3_root_password"`
	S3Bucket           string         `json:"s3_bucket"`
	S3Region           string         `json:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flags; when
// neither is set, no JSON file is loaded. An unreadable or invalid file
// panics, since starting with half-applied configuration is worse than not
// starting.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.WorkerCount = c.WorkerCount
	config.ClaimBatchSize = c.ClaimBatchSize
	config.PollInterval = time.Duration(c.PollInterval.Duration)
	config.HeartbeatInterval = time.Duration(c.HeartbeatInterval.Duration)
	config.LockTTL = time.Duration(c.LockTTL.Duration)
	config.SweepInterval = time.Duration(c.SweepInterval.Duration)
	config.PullInterval = time.Duration(c.PullInterval.Duration)
	config.PullRatePerSecond = c.PullRatePerSecond
	config.PullBurst = c.PullBurst
	config.EchoWindow = time.Duration(c.EchoWindow.Duration)
	config.MaxAttempts = c.MaxAttempts
	config.MediaMirrorEnabled = c.MediaMirrorEnabled
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
