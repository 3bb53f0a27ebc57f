package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-l string   log level (debug, info, warn, error)
//	-m int      max upload size, MiB
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-w int      enrichment worker count
//	-r int      max enrichment attempts per job
//	-t int      transcription timeout, seconds
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, so -c/-config never reaches this FlagSet.
//   - Size and duration flags are integers and converted after parsing.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-l", "-m", "-u", "-p", "-b", "-g", "-e", "-w", "-r", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	maxUploadMiB := fs.Int64("m", config.MaxUploadBytes>>20, "max upload size (in MiB)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.IntVar(&config.WorkerCount, "w", config.WorkerCount, "enrichment worker count")
	fs.IntVar(&config.MaxAttempts, "r", config.MaxAttempts, "max enrichment attempts")
	timeout := fs.Int("t", int(config.TranscriptionTimeout.Seconds()), "transcription timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// Keep sub-MiB limits coming from file or env unless -m was given.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "m":
			config.MaxUploadBytes = *maxUploadMiB << 20
		case "t":
			config.TranscriptionTimeout = time.Duration(*timeout) * time.Second
		}
	})
}
