package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherrules/internal/types"
)

// fakeDynamo serves Query pages in order and records writes.
type fakeDynamo struct {
	pages    [][]map[string]ddbtypes.AttributeValue
	queryErr error
	queries  []*dynamodb.QueryInput

	puts   []*dynamodb.PutItemInput
	putErr error

	item    map[string]ddbtypes.AttributeValue
	deletes []*dynamodb.DeleteItemInput
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	i := len(f.queries) - 1
	out := &dynamodb.QueryOutput{}
	if i < len(f.pages) {
		out.Items = f.pages[i]
	}
	if i < len(f.pages)-1 {
		out.LastEvaluatedKey = map[string]ddbtypes.AttributeValue{
			"rule_id": &ddbtypes.AttributeValueMemberS{Value: "cursor"},
		}
	}
	return out, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.item}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deletes = append(f.deletes, in)
	return &dynamodb.DeleteItemOutput{}, nil
}

func frostRule() types.RuleDefinition {
	stop := false
	return types.RuleDefinition{
		FarmID:      "udaipur_farm1",
		RuleID:      "frost",
		Name:        "Frost warning",
		Stakeholder: "field",
		DataType:    types.DataTypeForecast,
		Priority:    2,
		Conditions: json.RawMessage(`{"operator":"AND","sub_conditions":[
			{"metric":"temperature_c","operator":"<","value":2},
			{"metric":"wind_speed_mps","operator":"<","value":1.5,"temporal":{"duration":"3 hours"}}
		]}`),
		Actions:     []types.Action{{Type: types.ActionSMS, Message: "Frost expected"}},
		StopOnMatch: &stop,
	}
}

func TestStore_PutThenList(t *testing.T) {
	api := &fakeDynamo{}
	store := New(api, Config{})

	require.NoError(t, store.PutRule(context.Background(), frostRule()))
	require.Len(t, api.puts, 1)
	put := api.puts[0]
	assert.Equal(t, DefaultTable, *put.TableName)
	assert.IsType(t, &ddbtypes.AttributeValueMemberM{}, put.Item["conditions"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberN{Value: "2"}, put.Item["priority"])

	api.pages = [][]map[string]ddbtypes.AttributeValue{{put.Item}}
	defs, err := store.ListRules(context.Background(), "udaipur_farm1", "field")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	got, want := defs[0], frostRule()
	assert.JSONEq(t, string(want.Conditions), string(got.Conditions))
	got.Conditions, want.Conditions = nil, nil
	assert.Equal(t, want, got)

	_, err = types.ParseRule(defs[0])
	assert.NoError(t, err)
}

func TestStore_ListRulesPaginatesThroughIndex(t *testing.T) {
	item := func(id string) map[string]ddbtypes.AttributeValue {
		return map[string]ddbtypes.AttributeValue{
			"farm_id":     &ddbtypes.AttributeValueMemberS{Value: "f1"},
			"rule_id":     &ddbtypes.AttributeValueMemberS{Value: id},
			"name":        &ddbtypes.AttributeValueMemberS{Value: id},
			"stakeholder": &ddbtypes.AttributeValueMemberS{Value: "field"},
			"data_type":   &ddbtypes.AttributeValueMemberS{Value: "current"},
			"priority":    &ddbtypes.AttributeValueMemberN{Value: "1"},
			"conditions": &ddbtypes.AttributeValueMemberL{Value: []ddbtypes.AttributeValue{
				&ddbtypes.AttributeValueMemberM{Value: map[string]ddbtypes.AttributeValue{
					"metric":   &ddbtypes.AttributeValueMemberS{Value: "rainfall_mm"},
					"operator": &ddbtypes.AttributeValueMemberS{Value: ">"},
					"value":    &ddbtypes.AttributeValueMemberN{Value: "10"},
				}},
			}},
			"actions": &ddbtypes.AttributeValueMemberL{},
		}
	}
	api := &fakeDynamo{pages: [][]map[string]ddbtypes.AttributeValue{
		{item("r1"), item("r2")},
		{item("r3")},
	}}

	defs, err := New(api, Config{Table: "Rules-dev"}).ListRules(context.Background(), "f1", "field")
	require.NoError(t, err)

	ids := []string{defs[0].RuleID, defs[1].RuleID, defs[2].RuleID}
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids)
	assert.JSONEq(t, `[{"metric":"rainfall_mm","operator":">","value":10}]`, string(defs[0].Conditions))
	assert.Nil(t, defs[0].StopOnMatch)

	require.Len(t, api.queries, 2)
	q := api.queries[0]
	assert.Equal(t, "Rules-dev", *q.TableName)
	assert.Equal(t, DefaultIndex, *q.IndexName)
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "f1"}, q.ExpressionAttributeValues[":fid"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "field"}, q.ExpressionAttributeValues[":stake"])
	assert.NotEmpty(t, api.queries[1].ExclusiveStartKey)
}

func TestStore_ListRulesSkipsUndecodable(t *testing.T) {
	api := &fakeDynamo{pages: [][]map[string]ddbtypes.AttributeValue{{
		{
			"rule_id":  &ddbtypes.AttributeValueMemberS{Value: "broken"},
			"priority": &ddbtypes.AttributeValueMemberS{Value: "high"},
		},
	}}}
	defs, err := New(api, Config{}).ListRules(context.Background(), "f1", "field")
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestStore_ListRulesAcceptsStringPriority(t *testing.T) {
	item := func(id string, prio ddbtypes.AttributeValue) map[string]ddbtypes.AttributeValue {
		return map[string]ddbtypes.AttributeValue{
			"farm_id":     &ddbtypes.AttributeValueMemberS{Value: "f1"},
			"rule_id":     &ddbtypes.AttributeValueMemberS{Value: id},
			"stakeholder": &ddbtypes.AttributeValueMemberS{Value: "field"},
			"data_type":   &ddbtypes.AttributeValueMemberS{Value: "current"},
			"priority":    prio,
		}
	}
	api := &fakeDynamo{pages: [][]map[string]ddbtypes.AttributeValue{{
		item("as-string", &ddbtypes.AttributeValueMemberS{Value: "3"}),
		item("as-number", &ddbtypes.AttributeValueMemberN{Value: "7"}),
		item("as-decimal", &ddbtypes.AttributeValueMemberN{Value: "2.0"}),
		item("as-word", &ddbtypes.AttributeValueMemberS{Value: "high"}),
	}}}

	defs, err := New(api, Config{}).ListRules(context.Background(), "f1", "field")
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "as-string", defs[0].RuleID)
	assert.Equal(t, 3, defs[0].Priority)
	assert.Equal(t, 7, defs[1].Priority)
	assert.Equal(t, 2, defs[2].Priority)
}

func TestStore_ListRulesError(t *testing.T) {
	api := &fakeDynamo{queryErr: errors.New("ProvisionedThroughputExceededException")}
	_, err := New(api, Config{}).ListRules(context.Background(), "f1", "field")
	assert.Equal(t, types.ErrCodeInternalCatalog, types.ErrorCodeOf(err))
}

func TestStore_PutRuleValidates(t *testing.T) {
	api := &fakeDynamo{}
	def := frostRule()
	def.Conditions = json.RawMessage(`{"metric":"chance_of_rain_percent","operator":"RATE>","value":5}`)

	err := New(api, Config{}).PutRule(context.Background(), def)
	assert.True(t, types.IsValidation(err))
	assert.Empty(t, api.puts)
}

func TestStore_GetAndDelete(t *testing.T) {
	api := &fakeDynamo{}
	store := New(api, Config{})

	_, err := store.GetRule(context.Background(), "f1", "missing")
	assert.Equal(t, types.ErrCodeNotFoundRule, types.ErrorCodeOf(err))

	require.NoError(t, store.PutRule(context.Background(), frostRule()))
	api.item = api.puts[0].Item
	def, err := store.GetRule(context.Background(), "udaipur_farm1", "frost")
	require.NoError(t, err)
	assert.Equal(t, "Frost warning", def.Name)

	require.NoError(t, store.DeleteRule(context.Background(), "udaipur_farm1", "frost"))
	require.Len(t, api.deletes, 1)
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "frost"}, api.deletes[0].Key["rule_id"])
}
