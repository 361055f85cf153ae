// Package dynamo implements mailtracker.Repository on a single DynamoDB
// table.
//
// Layout (PK / SK):
//
//	MSG#<hash> / MSG             sent message
//	MSG#<hash> / LINK#<linkHash> tracked link
//
// The message_id-index GSI (partition message_id, sort created_unix) serves
// lookups by transport id. Counters use ADD; meta merges use an optimistic
// meta_version check.
package dynamo

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// TransportIndex is the GSI keyed by transport message id.
const TransportIndex = "message_id-index"

const (
	messageSK  = "MSG"
	linkPrefix = "LINK#"

	maxMergeAttempts = 5
	maxTxAttempts    = 4
	batchWriteLimit  = 25
)

// txBackoff is the base wait before retrying a transaction cancelled by a
// conflicting write.
var txBackoff = 25 * time.Millisecond

// API is the subset of the DynamoDB client the repository uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

func messagePK(hash string) string { return "MSG#" + hash }
