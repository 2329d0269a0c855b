package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"travel-assistant/internal/domain"
	"travel-assistant/internal/memory"
)

const (
	skProfile    = "PROFILE#"
	skPrefixTurn = "TURN#"
	ttlDuration  = 90 * 24 * time.Hour // turns expire after 90 days

	// turnTimeLayout is fixed-width so sort keys order chronologically.
	turnTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Client is the durable tier on a single DynamoDB table. Profiles and turns
// share the user partition.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// userPK returns the partition key for a user.
func userPK(userID string) string {
	return "USER#" + userID
}

// turnSK orders turns by creation time; the id keeps equal timestamps unique.
func turnSK(ts time.Time, turnID string) string {
	return skPrefixTurn + ts.UTC().Format(turnTimeLayout) + "#" + turnID
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

func (c *Client) Name() string { return "dynamodb" }

// Ping checks that the table exists and is reachable.
func (c *Client) Ping(ctx context.Context) error {
	out, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.tableName)})
	if err != nil {
		return fmt.Errorf("repository: Ping: %w", err)
	}
	if out == nil || out.Table == nil {
		return errors.New("repository: Ping: empty table description")
	}
	return nil
}

// GetProfile reads the user's profile item.
func (c *Client) GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("repository: GetProfile get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.UserProfile{}, false, nil
	}
	p, err := itemToProfile(out.Item)
	if err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("repository: GetProfile decode: %w", err)
	}
	return p, true, nil
}

// MergeProfile sets only the fields present in update and returns the
// stored result. Concurrent merges are field-level last-write-wins.
func (c *Client) MergeProfile(ctx context.Context, userID string, update domain.ProfileUpdate, now time.Time) (domain.UserProfile, error) {
	sets := []string{"userId = :uid", "lastUpdated = :lu"}
	values := map[string]types.AttributeValue{
		":uid": &types.AttributeValueMemberS{Value: userID},
		":lu":  &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
	}
	if update.DestinationsOfInterest != nil {
		sets = append(sets, "destinations = :dst")
		values[":dst"] = stringList(update.DestinationsOfInterest)
	}
	if update.TravelPace != nil {
		sets = append(sets, "pace = :pace")
		values[":pace"] = &types.AttributeValueMemberS{Value: string(*update.TravelPace)}
	}
	if update.ActivityPreferences != nil {
		sets = append(sets, "activities = :act")
		values[":act"] = stringList(domain.NormalizeActivities(update.ActivityPreferences))
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("repository: MergeProfile: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.UserProfile{}, errors.New("repository: MergeProfile: no attributes returned")
	}
	p, err := itemToProfile(out.Attributes)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("repository: MergeProfile decode: %w", err)
	}
	return p, nil
}

// AppendTurn writes an immutable turn item. Rewriting the same turn is
// rejected by the condition and treated as success.
func (c *Client) AppendTurn(ctx context.Context, turn domain.ConversationTurn) error {
	if turn.UserID == "" || turn.TurnID == "" {
		return errors.New("repository: AppendTurn: user id and turn id are required")
	}
	item, err := c.turnItem(turn)
	if err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

// RecentTurns queries the newest turns and returns them oldest first.
func (c *Client) RecentTurns(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns query: %w", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(out.Items))
	for _, item := range out.Items {
		t, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: RecentTurns unmarshal: %w", err)
		}
		turns = append(turns, t)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (c *Client) turnItem(t domain.ConversationTurn) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(t.UserID)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(t.CreatedAt, t.TurnID)},
		"turnId":    &types.AttributeValueMemberS{Value: t.TurnID},
		"userId":    &types.AttributeValueMemberS{Value: t.UserID},
		"role":      &types.AttributeValueMemberS{Value: string(t.Role)},
		"text":      &types.AttributeValueMemberS{Value: t.Text},
		"createdAt": &types.AttributeValueMemberS{Value: t.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
	if len(t.Metadata) > 0 {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		item["metadata"] = &types.AttributeValueMemberS{Value: string(raw)}
	}
	return item, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.ConversationTurn, error) {
	id, err := strAttr(item, "turnId")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	uid, err := strAttr(item, "userId")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	t := domain.ConversationTurn{
		TurnID:    id,
		UserID:    uid,
		Role:      domain.Role(role),
		Text:      text,
		CreatedAt: created,
	}
	if raw, err := strAttr(item, "metadata"); err == nil && raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Metadata); err != nil {
			return domain.ConversationTurn{}, fmt.Errorf("repository: decode metadata: %w", err)
		}
	}
	return t, nil
}

func itemToProfile(item map[string]types.AttributeValue) (domain.UserProfile, error) {
	uid, err := strAttr(item, "userId")
	if err != nil {
		return domain.UserProfile{}, err
	}
	updated, err := timeAttr(item, "lastUpdated")
	if err != nil {
		return domain.UserProfile{}, err
	}
	p := domain.UserProfile{UserID: uid, LastUpdated: updated}
	if p.DestinationsOfInterest, err = listAttr(item, "destinations"); err != nil {
		return domain.UserProfile{}, err
	}
	if p.ActivityPreferences, err = listAttr(item, "activities"); err != nil {
		return domain.UserProfile{}, err
	}
	if pace, err := strAttr(item, "pace"); err == nil {
		p.TravelPace = domain.TravelPace(pace)
	}
	return p, nil
}

func stringList(values []string) *types.AttributeValueMemberL {
	l := make([]types.AttributeValue, 0, len(values))
	for _, v := range values {
		l = append(l, &types.AttributeValueMemberS{Value: v})
	}
	return &types.AttributeValueMemberL{Value: l}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts.UTC(), nil
}

// listAttr reads an optional list of strings; a missing attribute is nil.
func listAttr(item map[string]types.AttributeValue, key string) ([]string, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	l, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a list", key)
	}
	out := make([]string, 0, len(l.Value))
	for i, e := range l.Value {
		s, ok := e.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("repository: attribute %q[%d] is not a string", key, i)
		}
		out = append(out, s.Value)
	}
	return out, nil
}

var _ memory.DurableTier = (*Client)(nil)
