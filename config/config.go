package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Retention limits. MaxRetention is a hard platform ceiling: no resource
// may outlive CreatedAt + MaxRetention, whatever the caller asked for.
const (
	MaxRetention    = 90 * 24 * time.Hour
	DefaultPasteTTL = 7 * 24 * time.Hour
	DefaultFileTTL  = 30 * 24 * time.Hour
	DefaultQRTTL    = 7 * 24 * time.Hour
	DefaultLinkTTL  = 7 * 24 * time.Hour
	// Short URLs default to never expiring; see the expiry package.

	// IdleRetention bounds storage held by records nobody ever used:
	// zero-use QR records older than this are swept regardless of expiry.
	IdleRetention = 90 * 24 * time.Hour
)

// Background task intervals.
const (
	SweepInterval  = 6 * time.Hour
	ReaperInterval = time.Hour
)

// Slug generation.
const (
	SlugAlphabet        = "abcdefghijklmnopqrstuvwxyz0123456789"
	DefaultSlugLength   = 6
	LongSlugLength      = 8 // files and link pages
	SlugAllocateRetries = 8
)

// QuotaLimit pairs a request budget with the fixed window it applies to.
type QuotaLimit struct {
	Limit  int
	Window time.Duration
}

// Quota categories. Budgets are independent of each other: spending one
// category never touches another.
const (
	QuotaGeneral     = "general"
	QuotaUpload      = "upload"
	QuotaPasteCreate = "paste-create"
	QuotaURLCreate   = "url-create"
	QuotaContact     = "contact"
)

// QuotaLimits is the fixed per-category budget table.
var QuotaLimits = map[string]QuotaLimit{
	QuotaGeneral:     {Limit: 50, Window: 15 * time.Minute},
	QuotaUpload:      {Limit: 10, Window: time.Hour},
	QuotaPasteCreate: {Limit: 20, Window: time.Hour},
	QuotaURLCreate:   {Limit: 30, Window: time.Hour},
	QuotaContact:     {Limit: 50, Window: 15 * time.Minute},
}

// Config holds runtime configuration for the ephem service.
type Config struct {
	Port        int    `json:"port"`
	BaseURL     string `json:"base_url"`
	DataDir     string `json:"data_dir"`
	MaxUpload   int64  `json:"max_upload"`
	MongoURL    string `json:"mongo_url"`
	MongoDB     string `json:"mongo_db"`
	DynamoTable string `json:"dynamo_table"`
	S3Bucket    string `json:"s3_bucket"`
	S3Prefix    string `json:"s3_prefix"`
	Version     string `json:"version"`
	BuildTime   string `json:"build_time"`
	CommitHash  string `json:"commit_hash"`
}

// LoadConfig loads configuration from CLI flags with environment overrides.
func LoadConfig() *Config {
	config := &Config{
		Port:      8080,
		BaseURL:   "",
		DataDir:   "./data",
		MaxUpload: 25 * 1024 * 1024, // 25MB
		MongoDB:   "ephem",
	}

	flag.IntVar(&config.Port, "port", config.Port, "Port to listen on")
	flag.StringVar(&config.BaseURL, "url", config.BaseURL, "Base URL for share links")
	flag.StringVar(&config.DataDir, "data-dir", config.DataDir, "Directory for filesystem storage")
	flag.Int64Var(&config.MaxUpload, "max-upload", config.MaxUpload, "Maximum upload size in bytes")
	flag.StringVar(&config.MongoURL, "mongo-url", config.MongoURL, "MongoDB connection URL (enables MongoDB backend)")
	flag.StringVar(&config.MongoDB, "mongo-db", config.MongoDB, "MongoDB database name")
	flag.StringVar(&config.DynamoTable, "dynamo-table", config.DynamoTable, "DynamoDB table name (enables DynamoDB backend)")
	flag.StringVar(&config.S3Bucket, "s3-bucket", config.S3Bucket, "S3 bucket for file payloads")
	flag.StringVar(&config.S3Prefix, "s3-prefix", config.S3Prefix, "S3 key prefix for file payloads")
	flag.Parse()

	if val := os.Getenv("EPHEM_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Port = port
		}
	}
	if val := os.Getenv("EPHEM_URL"); val != "" {
		config.BaseURL = val
	}
	if val := os.Getenv("EPHEM_DATA_DIR"); val != "" {
		config.DataDir = val
	}
	if val := os.Getenv("EPHEM_MAX_UPLOAD"); val != "" {
		if size, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.MaxUpload = size
		}
	}
	if val := os.Getenv("EPHEM_MONGO_URL"); val != "" {
		config.MongoURL = val
	}
	if val := os.Getenv("EPHEM_MONGO_DB"); val != "" {
		config.MongoDB = val
	}
	if val := os.Getenv("EPHEM_DYNAMO_TABLE"); val != "" {
		config.DynamoTable = val
	}
	if val := os.Getenv("EPHEM_S3_BUCKET"); val != "" {
		config.S3Bucket = val
	}
	if val := os.Getenv("EPHEM_S3_PREFIX"); val != "" {
		config.S3Prefix = val
	}

	return config
}
