package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/photo"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "PHOTO#"
	skMeta   = "META"

	attrStatus = "processingStatus"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements Gateway using AWS DynamoDB. Both mutations are a
// single conditional UpdateItem, so no read-modify-write races exist.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// Compile-time interface checks.
var (
	_ Gateway   = (*DynamoStore)(nil)
	_ DynamoAPI = (*dynamodb.Client)(nil)
)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// --- Internal helpers ---

// photoPK returns the partition key for a photo.
func photoPK(id string) string {
	return pkPrefix + id
}

func (s *DynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: photoPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// updateExpr accumulates a SET expression with its placeholder maps.
// Every attribute goes through a name placeholder since several of ours
// ("owner", "format") are reserved words.
type updateExpr struct {
	sets   []string
	names  map[string]string
	values map[string]types.AttributeValue
	err    error
}

func newUpdateExpr() *updateExpr {
	return &updateExpr{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

func (u *updateExpr) name(attr string) string {
	ph := "#" + attr
	u.names[ph] = attr
	return ph
}

func (u *updateExpr) value(v interface{}) string {
	ph := fmt.Sprintf(":v%d", len(u.values))
	av, err := attributevalue.Marshal(v)
	if err != nil && u.err == nil {
		u.err = fmt.Errorf("marshal %s: %w", ph, err)
	}
	u.values[ph] = av
	return ph
}

// set overwrites attr.
func (u *updateExpr) set(attr string, v interface{}) {
	u.sets = append(u.sets, fmt.Sprintf("%s = %s", u.name(attr), u.value(v)))
}

// setOnce writes attr only if it is absent.
func (u *updateExpr) setOnce(attr string, v interface{}) {
	n := u.name(attr)
	u.sets = append(u.sets, fmt.Sprintf("%s = if_not_exists(%s, %s)", n, n, u.value(v)))
}

func (u *updateExpr) setOnceString(attr, v string) {
	if v != "" {
		u.setOnce(attr, v)
	}
}

func (u *updateExpr) expression() string {
	return "SET " + strings.Join(u.sets, ", ")
}

// conflict builds a ConflictError, reading the current status from the item
// DynamoDB returns on a failed condition.
func conflict(id string, expect photo.Status, item map[string]types.AttributeValue) *photo.ConflictError {
	c := &photo.ConflictError{ID: id, Expect: expect}
	if v, ok := item[attrStatus].(*types.AttributeValueMemberS); ok {
		c.Actual = photo.Status(v.Value)
	}
	return c
}

// updateItem runs a conditional UpdateItem and unmarshals the new image.
func (s *DynamoStore) updateItem(ctx context.Context, id string, u *updateExpr, condition string, expect photo.Status) (*photo.Photo, error) {
	if u.err != nil {
		return nil, u.err
	}
	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           &s.tableName,
		Key:                                 s.key(id),
		UpdateExpression:                    aws.String(u.expression()),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            u.names,
		ExpressionAttributeValues:           u.values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, conflict(id, expect, ccf.Item)
		}
		return nil, &photo.ExternalServiceError{
			Service: "dynamodb",
			Op:      "UpdateItem",
			Err:     fmt.Errorf("PK=%s SK=%s: %w", photoPK(id), skMeta, err),
		}
	}

	var p photo.Photo
	if err := attributevalue.UnmarshalMap(result.Attributes, &p); err != nil {
		return nil, fmt.Errorf("unmarshal PK=%s SK=%s: %w", photoPK(id), skMeta, err)
	}
	return &p, nil
}

// --- Gateway ---

// Create writes the record as RUNNING unless one already exists past PENDING.
func (s *DynamoStore) Create(ctx context.Context, p *photo.Photo) (*photo.Photo, error) {
	if err := checkCreate(p); err != nil {
		return nil, err
	}

	u := newUpdateExpr()
	u.setOnce("id", p.ID)
	u.setOnceString("albumId", p.AlbumID)
	u.setOnceString("owner", p.Owner)
	u.setOnceString("bucket", p.Bucket)
	u.setOnceString("sourceKey", p.SourceKey)
	u.setOnce("uploadTime", p.UploadTime)
	u.set("orchestrationRef", p.OrchestrationRef)
	u.set(attrStatus, photo.StatusRunning)
	u.set("updatedAt", now())
	condition := fmt.Sprintf("attribute_not_exists(PK) OR %s = %s", u.name(attrStatus), u.value(photo.StatusPending))

	rec, err := s.updateItem(ctx, p.ID, u, condition, photo.StatusPending)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("id", p.ID).Str("ref", p.OrchestrationRef).Msg("Photo record created")
	return rec, nil
}

// Update applies patch when the stored status equals expect.
func (s *DynamoStore) Update(ctx context.Context, id string, patch photo.Patch, expect photo.Status) (*photo.Photo, error) {
	if err := checkUpdate(id, patch, expect); err != nil {
		return nil, err
	}

	u := newUpdateExpr()
	u.set(attrStatus, patch.Status)
	u.set("updatedAt", now())
	if patch.Fullsize != nil {
		u.setOnce("fullsize", patch.Fullsize)
	}
	if patch.Thumbnail != nil {
		u.setOnce("thumbnail", patch.Thumbnail)
	}
	u.setOnceString("format", patch.Format)
	u.setOnceString("exifMake", patch.ExifMake)
	u.setOnceString("exifModel", patch.ExifModel)
	if patch.GeoLocation != nil {
		u.setOnce("geoLocation", patch.GeoLocation)
	}
	if patch.ObjectDetected != nil {
		u.setOnce("objectDetected", patch.ObjectDetected)
	}
	u.setOnceString("failureReason", patch.FailureReason)
	if patch.FailedStages != nil {
		u.setOnce("failedStages", patch.FailedStages)
	}
	condition := fmt.Sprintf("%s = %s", u.name(attrStatus), u.value(expect))

	rec, err := s.updateItem(ctx, id, u, condition, expect)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("id", id).Str("status", string(patch.Status)).Msg("Photo record updated")
	return rec, nil
}

// Get reads a record. Returns nil, nil if not found.
func (s *DynamoStore) Get(ctx context.Context, id string) (*photo.Photo, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, &photo.ExternalServiceError{
			Service: "dynamodb",
			Op:      "GetItem",
			Err:     fmt.Errorf("PK=%s SK=%s: %w", photoPK(id), skMeta, err),
		}
	}
	if result.Item == nil {
		return nil, nil
	}
	var p photo.Photo
	if err := attributevalue.UnmarshalMap(result.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal PK=%s SK=%s: %w", photoPK(id), skMeta, err)
	}
	return &p, nil
}
