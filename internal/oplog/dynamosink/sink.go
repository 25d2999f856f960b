// Package dynamosink publishes operation projections to a DynamoDB table.
package dynamosink

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"

	"tbloader/internal/oplog"
)

//go:generate mockgen -destination=mock_dynamodb.go -package=dynamosink tbloader/internal/oplog/dynamosink PutItemAPI

// PutItemAPI is the part of the DynamoDB client the sink needs.
type PutItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Sink writes one item per projection row.
type Sink struct {
	Client    PutItemAPI
	TableName string
	// NewID generates record ids; defaults to random UUIDs.
	NewID func() string
}

// New returns a Sink for table.
func New(client PutItemAPI, table string) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamosink: dynamodb client is not initialized")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("dynamosink: table name is required")
	}
	return &Sink{Client: client, TableName: table}, nil
}

// Publish stores row with its kind and a fresh record id.
func (s *Sink) Publish(ctx context.Context, row oplog.Projection) error {
	fields := row.Map()
	fields["record_kind"] = string(row.Kind)
	id := uuid.NewString
	if s.NewID != nil {
		id = s.NewID
	}
	fields["record_id"] = id()

	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return fmt.Errorf("dynamosink: marshal %s record: %w", row.Kind, err)
	}
	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.TableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamosink: put %s record: %w", row.Kind, err)
	}
	return nil
}

var _ oplog.Publisher = (*Sink)(nil)
