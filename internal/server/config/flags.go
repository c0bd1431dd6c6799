package config

import (
	"flag"
	"os"
	"time"

	"github.com/cmstack/mirrorsync/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   server secret key
//	-w int      worker slot count
//	-n int      claim batch size
//	-l int      lock TTL, seconds
//	-i int      incremental pull interval, seconds
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-m          enable media binary mirroring to S3
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers in seconds and then converted to
// time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:],
		[]string{"-a", "-d", "-s", "-w", "-n", "-l", "-i", "-u", "-p", "-b", "-g", "-e", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port for the webhook endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.IntVar(&config.WorkerCount, "w", config.WorkerCount, "worker slot count")
	fs.IntVar(&config.ClaimBatchSize, "n", config.ClaimBatchSize, "claim batch size")

	lockTTL := fs.Int("l", int(config.LockTTL.Seconds()), "job lock TTL (in seconds)")
	pullInterval := fs.Int("i", int(config.PullInterval.Seconds()), "incremental pull interval (in seconds)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.BoolVar(&config.MediaMirrorEnabled, "m", config.MediaMirrorEnabled, "mirror media binaries to S3")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.LockTTL = time.Duration(*lockTTL) * time.Second
	config.PullInterval = time.Duration(*pullInterval) * time.Second
}
