// Package catalog stores rule definitions in DynamoDB. Rules are keyed by
// (farm_id, rule_id) and listed through a (farm_id, stakeholder) index.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"weatherrules/internal/types"
)

const (
	DefaultTable = "WeatherRules"
	DefaultIndex = "StakeholderIndex"
)

// DynamoAPI is the subset of *dynamodb.Client the catalog uses.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Config wires a Store.
type Config struct {
	Table  string
	Index  string
	Logger *slog.Logger
}

// Store is the DynamoDB rule catalog.
type Store struct {
	client DynamoAPI
	table  string
	index  string
	logger *slog.Logger
}

func New(client DynamoAPI, cfg Config) *Store {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{client: client, table: cfg.Table, index: cfg.Index, logger: cfg.Logger}
}

// ruleItem is the stored shape. Conditions are held as a native document so
// the console shows them readably. Priority is written as a number but read
// from either a number or a numeric string.
type ruleItem struct {
	FarmID      string         `dynamodbav:"farm_id"`
	RuleID      string         `dynamodbav:"rule_id"`
	Name        string         `dynamodbav:"name"`
	Stakeholder string         `dynamodbav:"stakeholder"`
	DataType    string         `dynamodbav:"data_type"`
	Priority    priority       `dynamodbav:"priority"`
	Conditions  any            `dynamodbav:"conditions"`
	Actions     []types.Action `dynamodbav:"actions"`
	StopOnMatch *bool          `dynamodbav:"stop_on_match,omitempty"`
}

// priority accepts rules written by older tooling that stored the request
// body as sent, so "priority":"3" arrives as a string attribute.
type priority int

func (p *priority) UnmarshalDynamoDBAttributeValue(av ddbtypes.AttributeValue) error {
	switch v := av.(type) {
	case *ddbtypes.AttributeValueMemberN:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("catalog: priority %q is not a number", v.Value)
		}
		*p = priority(math.Trunc(f))
	case *ddbtypes.AttributeValueMemberS:
		n, err := strconv.Atoi(strings.TrimSpace(v.Value))
		if err != nil {
			return fmt.Errorf("catalog: priority %q is not an integer", v.Value)
		}
		*p = priority(n)
	case *ddbtypes.AttributeValueMemberNULL:
		*p = 0
	default:
		return fmt.Errorf("catalog: unsupported priority attribute %T", av)
	}
	return nil
}

func toItem(def types.RuleDefinition) (ruleItem, error) {
	var conditions any
	if err := json.Unmarshal(def.Conditions, &conditions); err != nil {
		return ruleItem{}, types.NewAppError(types.ErrCodeValidationInvalidConditions, "conditions are not valid JSON", err)
	}
	return ruleItem{
		FarmID:      def.FarmID,
		RuleID:      def.RuleID,
		Name:        def.Name,
		Stakeholder: def.Stakeholder,
		DataType:    string(def.DataType),
		Priority:    priority(def.Priority),
		Conditions:  conditions,
		Actions:     def.Actions,
		StopOnMatch: def.StopOnMatch,
	}, nil
}

func (it ruleItem) definition() (types.RuleDefinition, error) {
	raw, err := json.Marshal(it.Conditions)
	if err != nil {
		return types.RuleDefinition{}, err
	}
	return types.RuleDefinition{
		FarmID:      it.FarmID,
		RuleID:      it.RuleID,
		Name:        it.Name,
		Stakeholder: it.Stakeholder,
		DataType:    types.DataType(it.DataType),
		Priority:    int(it.Priority),
		Conditions:  raw,
		Actions:     it.Actions,
		StopOnMatch: it.StopOnMatch,
	}, nil
}

// ListRules returns every rule for (farmID, stakeholder) in index order,
// following pagination. Items that cannot be decoded are logged and left
// out so one corrupt record never hides the rest.
func (s *Store) ListRules(ctx context.Context, farmID, stakeholder string) ([]types.RuleDefinition, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.index),
		KeyConditionExpression: aws.String("farm_id = :fid AND stakeholder = :stake"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":fid":   &ddbtypes.AttributeValueMemberS{Value: farmID},
			":stake": &ddbtypes.AttributeValueMemberS{Value: stakeholder},
		},
	}

	var defs []types.RuleDefinition
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalCatalog,
				fmt.Sprintf("failed to query rules for %s/%s", farmID, stakeholder), err)
		}
		for _, av := range page.Items {
			var it ruleItem
			if err := attributevalue.UnmarshalMap(av, &it); err != nil {
				s.logger.WarnContext(ctx, "skipping undecodable rule item", "farm_id", farmID, "error", err)
				continue
			}
			def, err := it.definition()
			if err != nil {
				s.logger.WarnContext(ctx, "skipping rule with unencodable conditions", "rule_id", it.RuleID, "error", err)
				continue
			}
			defs = append(defs, def)
		}
	}
	return defs, nil
}

// GetRule returns one rule or a not_found error.
func (s *Store) GetRule(ctx context.Context, farmID, ruleID string) (*types.RuleDefinition, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       ruleKey(farmID, ruleID),
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCatalog, "failed to get rule", err)
	}
	if len(out.Item) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundRule, fmt.Sprintf("rule %s not found for %s", ruleID, farmID), nil)
	}
	var it ruleItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCatalog, "failed to decode rule", err)
	}
	def, err := it.definition()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCatalog, "failed to decode rule conditions", err)
	}
	return &def, nil
}

// PutRule validates def and stores it, replacing any rule with the same key.
func (s *Store) PutRule(ctx context.Context, def types.RuleDefinition) error {
	if _, err := types.ParseRule(def); err != nil {
		return err
	}
	it, err := toItem(def)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalCatalog, "failed to encode rule", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}); err != nil {
		return types.NewAppError(types.ErrCodeInternalCatalog, "failed to store rule", err)
	}
	s.logger.InfoContext(ctx, "rule stored", "farm_id", def.FarmID, "rule_id", def.RuleID)
	return nil
}

// DeleteRule removes a rule. Deleting a missing rule is not an error.
func (s *Store) DeleteRule(ctx context.Context, farmID, ruleID string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       ruleKey(farmID, ruleID),
	}); err != nil {
		return types.NewAppError(types.ErrCodeInternalCatalog, "failed to delete rule", err)
	}
	return nil
}

func ruleKey(farmID, ruleID string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"farm_id": &ddbtypes.AttributeValueMemberS{Value: farmID},
		"rule_id": &ddbtypes.AttributeValueMemberS{Value: ruleID},
	}
}
