package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

// Repo implements mailtracker.Repository against DynamoDB.
type Repo struct {
	client API
	table  string
	now    func() time.Time
}

// NewRepo creates a repository on the given table.
func NewRepo(client API, table string) *Repo {
	return &Repo{client: client, table: table, now: time.Now}
}

func (r *Repo) key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func str(s string) types.AttributeValue { return &types.AttributeValueMemberS{Value: s} }

func num(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (r *Repo) CreateMessage(ctx context.Context, msg *domain.SentMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now().UTC()
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	item, err := newMessageItem(msg)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if isConditionFailed(err) {
		return mailtracker.ErrDuplicateHash
	}
	if err != nil {
		return fmt.Errorf("putting sent message: %w", err)
	}
	return nil
}

func (r *Repo) getMessageItem(ctx context.Context, hash string) (*messageItem, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            r.key(messagePK(hash), messageSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting sent message: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, mailtracker.ErrNotFound
	}
	var item messageItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling sent message: %w", err)
	}
	return &item, nil
}

func (r *Repo) MessageByHash(ctx context.Context, hash string) (*domain.SentMessage, error) {
	item, err := r.getMessageItem(ctx, hash)
	if err != nil {
		return nil, err
	}
	return item.toDomain()
}

// MessageByTransportID reads the GSI, which is eventually consistent: a
// notification racing AfterSend may miss and is then acknowledged unmatched.
func (r *Repo) MessageByTransportID(ctx context.Context, messageID string) (*domain.SentMessage, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		IndexName:                 aws.String(TransportIndex),
		KeyConditionExpression:    aws.String("message_id = :m"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":m": str(messageID)},
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", TransportIndex, err)
	}
	if len(out.Items) == 0 {
		return nil, mailtracker.ErrNotFound
	}
	var item messageItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return nil, fmt.Errorf("unmarshaling sent message: %w", err)
	}
	return item.toDomain()
}

func (r *Repo) SetTransportID(ctx context.Context, hash, messageID string) (bool, error) {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 r.key(messagePK(hash), messageSK),
		UpdateExpression:    aws.String("SET message_id = :m, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_not_exists(message_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m":   str(messageID),
			":now": str(formatTime(r.now())),
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return true, nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return false, mailtracker.ErrNotFound
		}
		return false, nil
	}
	return false, fmt.Errorf("setting transport id: %w", err)
}

func (r *Repo) IncrementOpens(ctx context.Context, hash string) error {
	_, err := r.client.UpdateItem(ctx, r.incrementInput(messagePK(hash), messageSK, "opens"))
	if isConditionFailed(err) {
		return mailtracker.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("incrementing opens: %w", err)
	}
	return nil
}

func (r *Repo) incrementInput(pk, sk, counter string) *dynamodb.UpdateItemInput {
	return &dynamodb.UpdateItemInput{
		TableName:                r.tablePtr(),
		Key:                      r.key(pk, sk),
		UpdateExpression:         aws.String("ADD #c :one SET updated_at = :now"),
		ConditionExpression:      aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{"#c": counter},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": num(1),
			":now": str(formatTime(r.now())),
		},
	}
}

func (r *Repo) tablePtr() *string { return aws.String(r.table) }

// FindOrCreateLink puts the link conditioned on the message existing and the
// link not existing; a cancelled transaction tells which one failed.
func (r *Repo) FindOrCreateLink(ctx context.Context, hash string, link *domain.TrackedLink) (*domain.TrackedLink, error) {
	msg, err := r.getMessageItem(ctx, hash)
	if err != nil {
		return nil, err
	}

	now := formatTime(r.now())
	item := linkItem{
		PK:            messagePK(hash),
		SK:            linkPrefix + link.Hash,
		ID:            link.ID,
		SentMessageID: msg.ID,
		LinkHash:      link.Hash,
		URL:           link.URL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("marshaling link: %w", err)
	}

	err = r.transactWrite(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{ConditionCheck: &types.ConditionCheck{
				TableName:           r.tablePtr(),
				Key:                 r.key(messagePK(hash), messageSK),
				ConditionExpression: aws.String("attribute_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           r.tablePtr(),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(SK)"),
			}},
		},
	})
	if err == nil {
		created := item.toDomain()
		return &created, nil
	}

	reasons, canceled := cancellationCodes(err)
	switch {
	case !canceled:
		return nil, fmt.Errorf("creating link: %w", err)
	case reasons[0] == reasonConditionFailed:
		return nil, mailtracker.ErrNotFound
	case reasons[1] == reasonConditionFailed:
		return r.LinkByHash(ctx, hash, link.Hash)
	}
	return nil, fmt.Errorf("creating link: %w", err)
}

func (r *Repo) LinkByHash(ctx context.Context, hash, linkHash string) (*domain.TrackedLink, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      r.tablePtr(),
		Key:            r.key(messagePK(hash), linkPrefix+linkHash),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting link: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, mailtracker.ErrNotFound
	}
	var item linkItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling link: %w", err)
	}
	l := item.toDomain()
	return &l, nil
}

func (r *Repo) LinksFor(ctx context.Context, hash string) ([]domain.TrackedLink, error) {
	var (
		links []domain.TrackedLink
		start map[string]types.AttributeValue
	)
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              r.tablePtr(),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :link)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":   str(messagePK(hash)),
				":link": str(linkPrefix),
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("querying links: %w", err)
		}
		for _, av := range out.Items {
			var item linkItem
			if err := attributevalue.UnmarshalMap(av, &item); err != nil {
				return nil, fmt.Errorf("unmarshaling link: %w", err)
			}
			links = append(links, item.toDomain())
		}
		if len(out.LastEvaluatedKey) == 0 {
			return links, nil
		}
		start = out.LastEvaluatedKey
	}
}

// RecordClick increments both counters in one transaction, retried while
// another click on the same link holds it.
func (r *Repo) RecordClick(ctx context.Context, hash, linkHash string) error {
	link := r.incrementInput(messagePK(hash), linkPrefix+linkHash, "clicks")
	msg := r.incrementInput(messagePK(hash), messageSK, "clicks")

	err := r.transactWrite(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: updateFrom(link)},
			{Update: updateFrom(msg)},
		},
	})
	if err == nil {
		return nil
	}
	if reasons, ok := cancellationCodes(err); ok {
		for _, code := range reasons {
			if code == reasonConditionFailed {
				return mailtracker.ErrNotFound
			}
		}
	}
	return fmt.Errorf("recording click: %w", err)
}

const (
	reasonConditionFailed = "ConditionalCheckFailed"
	reasonConflict        = "TransactionConflict"
)

// cancellationCodes returns the per-item cancellation codes of a cancelled
// transaction. The slice always has an entry per item ("None" when absent).
func cancellationCodes(err error) ([]string, bool) {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return nil, false
	}
	codes := make([]string, 0, len(canceled.CancellationReasons))
	for _, r := range canceled.CancellationReasons {
		codes = append(codes, aws.ToString(r.Code))
	}
	for len(codes) < 2 {
		codes = append(codes, "None")
	}
	return codes, true
}

// transactWrite runs a transaction, retrying while it is cancelled only
// because of conflicting in-flight writes. The SDK does not retry those.
func (r *Repo) transactWrite(ctx context.Context, in *dynamodb.TransactWriteItemsInput) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		_, err = r.client.TransactWriteItems(ctx, in)
		if !onlyConflicts(err) {
			return err
		}
		if attempt == maxTxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * txBackoff):
		}
	}
	return fmt.Errorf("transaction still conflicting after %d attempts: %w", maxTxAttempts, err)
}

func onlyConflicts(err error) bool {
	codes, ok := cancellationCodes(err)
	if !ok {
		return false
	}
	conflict := false
	for _, code := range codes {
		switch code {
		case reasonConflict:
			conflict = true
		case "None", "":
		default:
			return false
		}
	}
	return conflict
}

func updateFrom(in *dynamodb.UpdateItemInput) *types.Update {
	return &types.Update{
		TableName:                 in.TableName,
		Key:                       in.Key,
		UpdateExpression:          in.UpdateExpression,
		ConditionExpression:       in.ConditionExpression,
		ExpressionAttributeNames:  in.ExpressionAttributeNames,
		ExpressionAttributeValues: in.ExpressionAttributeValues,
	}
}

// MergeMeta reads the current meta, merges, and writes it back guarded by
// meta_version, retrying when another writer got there first.
func (r *Repo) MergeMeta(ctx context.Context, hash string, patch domain.Meta) error {
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		item, err := r.getMessageItem(ctx, hash)
		if err != nil {
			return err
		}
		current, err := item.toDomain()
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(current.Meta.Merge(patch))
		if err != nil {
			return fmt.Errorf("encode meta: %w", err)
		}

		_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           r.tablePtr(),
			Key:                 r.key(messagePK(hash), messageSK),
			UpdateExpression:    aws.String("SET meta = :meta, meta_version = :next, updated_at = :now"),
			ConditionExpression: aws.String("meta_version = :cur"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":meta": str(string(encoded)),
				":cur":  num(item.MetaVersion),
				":next": num(item.MetaVersion + 1),
				":now":  str(formatTime(r.now())),
			},
		})
		if err == nil {
			return nil
		}
		if !isConditionFailed(err) {
			return fmt.Errorf("merging meta: %w", err)
		}
	}
	return fmt.Errorf("merging meta for %s: too much contention after %d attempts", hash, maxMergeAttempts)
}

// DeleteMessage removes the message partition: the message and its links.
func (r *Repo) DeleteMessage(ctx context.Context, hash string) error {
	if _, err := r.getMessageItem(ctx, hash); err != nil {
		return err
	}
	return r.deletePartition(ctx, messagePK(hash))
}

// DeleteCreatedBefore scans for expired message items and deletes each
// message partition (the message and its links) in batches.
func (r *Repo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var (
		deleted int64
		start   map[string]types.AttributeValue
	)
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            r.tablePtr(),
			FilterExpression:     aws.String("SK = :msg AND created_unix < :cutoff"),
			ProjectionExpression: aws.String("PK"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":msg":    str(messageSK),
				":cutoff": num(cutoff.Unix()),
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return deleted, fmt.Errorf("scanning expired messages: %w", err)
		}

		for _, av := range out.Items {
			pk, ok := av["PK"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if err := r.deletePartition(ctx, pk.Value); err != nil {
				return deleted, err
			}
			deleted++
		}

		if len(out.LastEvaluatedKey) == 0 {
			return deleted, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (r *Repo) deletePartition(ctx context.Context, pk string) error {
	var (
		requests []types.WriteRequest
		start    map[string]types.AttributeValue
	)
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 r.tablePtr(),
			KeyConditionExpression:    aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":pk": str(pk)},
			ProjectionExpression:      aws.String("PK, SK"),
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return fmt.Errorf("querying %s: %w", pk, err)
		}
		for _, key := range out.Items {
			requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	for i := 0; i < len(requests); i += batchWriteLimit {
		end := i + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}
		if err := r.batchDelete(ctx, requests[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) batchDelete(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{r.table: requests}
	for attempt := 0; attempt < 5 && len(pending[r.table]) > 0; attempt++ {
		out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch delete: %w", err)
		}
		pending = out.UnprocessedItems
		if len(pending[r.table]) > 0 {
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
	}
	if n := len(pending[r.table]); n > 0 {
		return fmt.Errorf("batch delete: %d items left unprocessed", n)
	}
	return nil
}

var _ mailtracker.Repository = (*Repo)(nil)
