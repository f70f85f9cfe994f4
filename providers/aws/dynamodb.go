package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/converge-io/converge/internal/provider"
)

func (p *Provider) createTable(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "table_name")
	if name == "" {
		return "", nil, fmt.Errorf("aws_dynamodb_table: missing required attribute %q", "table_name")
	}

	var defs []types.AttributeDefinition
	for _, a := range listAttr(attrs, "attributes") {
		attrName := strAttr(a, "name")
		defs = append(defs, types.AttributeDefinition{
			AttributeName: &attrName,
			AttributeType: types.ScalarAttributeType(strAttr(a, "type")),
		})
	}

	var keySchema []types.KeySchemaElement
	for _, k := range listAttr(attrs, "key_schema") {
		keyName := strAttr(k, "name")
		keySchema = append(keySchema, types.KeySchemaElement{
			AttributeName: &keyName,
			KeyType:       types.KeyType(strAttr(k, "type")),
		})
	}

	billing := strAttr(attrs, "billing_mode")
	if billing == "" {
		billing = string(types.BillingModePayPerRequest)
	}

	_, err := p.dynamodbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            &name,
		AttributeDefinitions: defs,
		KeySchema:            keySchema,
		BillingMode:          types.BillingMode(billing),
	})
	if err != nil && !errCode(err, "ResourceInUseException") {
		return "", nil, wrapErr("failed to create table", err)
	}

	out, err := p.readTable(ctx, name)
	return name, out, err
}

func (p *Provider) readTable(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.dynamodbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: &id,
	})
	if err != nil {
		if errCode(err, "ResourceNotFoundException") {
			return nil, &provider.NotFoundError{Type: typeTable, ID: id}
		}
		return nil, wrapErr("failed to describe table", err)
	}

	table := resp.Table
	billing := string(types.BillingModeProvisioned)
	if table.BillingModeSummary != nil {
		billing = string(table.BillingModeSummary.BillingMode)
	}
	return map[string]any{
		"table_name":   *table.TableName,
		"arn":          *table.TableArn,
		"billing_mode": billing,
	}, nil
}

func (p *Provider) updateTable(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	if billing := strAttr(attrs, "billing_mode"); billing != "" {
		_, err := p.dynamodbClient.UpdateTable(ctx, &dynamodb.UpdateTableInput{
			TableName:   &id,
			BillingMode: types.BillingMode(billing),
		})
		if err != nil {
			return nil, wrapErr("failed to update table", err)
		}
	}
	return p.readTable(ctx, id)
}

func (p *Provider) deleteTable(ctx context.Context, id string) error {
	_, err := p.dynamodbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: &id,
	})
	if err != nil && !errCode(err, "ResourceNotFoundException") {
		return wrapErr("failed to delete table", err)
	}
	return nil
}
