package storage

import (
	"log"
	"os"

	"github.com/ephemhq/ephem/config"
)

// NewStore selects a backend from configuration: MongoDB when a Mongo URL
// is set, DynamoDB when a table name is set, filesystem otherwise.
func NewStore(cfg *config.Config) (ResourceStore, error) {
	switch {
	case cfg.MongoURL != "":
		log.Printf("Storage backend: MongoDB (%s)", cfg.MongoDB)
		return NewMongoStore(cfg.MongoURL, cfg.MongoDB)
	case cfg.DynamoTable != "":
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		log.Printf("Storage backend: DynamoDB (%s)", cfg.DynamoTable)
		return NewDynamoStore(cfg.DynamoTable, region)
	default:
		log.Printf("Storage backend: filesystem (%s)", cfg.DataDir)
		return NewFilesystemStore(cfg.DataDir, cfg.S3Bucket, cfg.S3Prefix)
	}
}
