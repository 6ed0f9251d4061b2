// Package dynamo implements store.RecordStore on an Amazon DynamoDB table
// whose partition key is the string attribute "username".
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nammalwarsai/skill3-cie/internal/model"
	"github.com/nammalwarsai/skill3-cie/internal/store"
)

// DefaultTable is the table name used when none is configured.
const DefaultTable = "Patients"

// scanPageSize bounds each Scan page so large tables are read incrementally.
const scanPageSize = 100

// API is the subset of *dynamodb.Client the store needs.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Records talks to one DynamoDB table.
type Records struct {
	client API
	table  string
}

// NewRecords wraps a DynamoDB client. An empty table falls back to DefaultTable.
func NewRecords(client API, table string) *Records {
	if client == nil {
		panic("nil dynamodb client passed to NewRecords")
	}
	if table == "" {
		table = DefaultTable
	}
	return &Records{client: client, table: table}
}

// PutIfAbsent writes the item guarded by attribute_not_exists(username).
func (r *Records) PutIfAbsent(ctx context.Context, acct model.Account) error {
	item, err := attributevalue.MarshalMap(acct)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(username)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("dynamodb put: %w", err)
	}
	return nil
}

// Get performs a strongly consistent point read.
func (r *Records) Get(ctx context.Context, username string) (model.Account, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            map[string]types.AttributeValue{"username": &types.AttributeValueMemberS{Value: username}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.Account{}, fmt.Errorf("dynamodb get: %w", err)
	}
	if len(out.Item) == 0 {
		return model.Account{}, store.ErrNotFound
	}
	var acct model.Account
	if err := attributevalue.UnmarshalMap(out.Item, &acct); err != nil {
		return model.Account{}, fmt.Errorf("unmarshal account: %w", err)
	}
	return acct, nil
}

// ScanAll walks every page of the table.
func (r *Records) ScanAll(ctx context.Context) ([]model.Account, error) {
	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName: aws.String(r.table),
		Limit:     aws.Int32(scanPageSize),
	})
	var out []model.Account
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}
		var batch []model.Account
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal scan page: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}
