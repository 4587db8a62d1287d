package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/photo-pipeline/internal/photo"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	now = func() time.Time { return fixedNow }
}

func runningPhoto(id string) *photo.Photo {
	return &photo.Photo{
		ID:               id,
		AlbumID:          "album1",
		Owner:            "alice",
		Bucket:           "photos",
		SourceKey:        "album1/upload/" + id + ".jpg",
		UploadTime:       fixedNow.Add(-time.Minute),
		OrchestrationRef: "arn:exec:" + id,
		ProcessingStatus: photo.StatusRunning,
	}
}

func TestMemoryStoreCreate(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	rec, err := m.Create(ctx, runningPhoto("p1"))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if rec.ProcessingStatus != photo.StatusRunning || rec.OrchestrationRef != "arn:exec:p1" {
		t.Errorf("Create() = %+v", rec)
	}

	// Duplicate delivery.
	_, err = m.Create(ctx, runningPhoto("p1"))
	var ce *photo.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("second Create() error = %v, want ConflictError", err)
	}
	if ce.Actual != photo.StatusRunning {
		t.Errorf("conflict Actual = %s, want RUNNING", ce.Actual)
	}
}

func TestMemoryStoreCreateOverPending(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.Put(&photo.Photo{ID: "p2", AlbumID: "client-album", Owner: "bob", ProcessingStatus: photo.StatusPending})

	rec, err := m.Create(ctx, runningPhoto("p2"))
	if err != nil {
		t.Fatalf("Create() over PENDING error: %v", err)
	}
	if rec.AlbumID != "client-album" || rec.Owner != "bob" {
		t.Errorf("identity overwritten: albumId=%q owner=%q", rec.AlbumID, rec.Owner)
	}
	if rec.Bucket != "photos" || rec.ProcessingStatus != photo.StatusRunning {
		t.Errorf("Create() = %+v, want bucket filled and RUNNING", rec)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if _, err := m.Create(ctx, runningPhoto("p1")); err != nil {
		t.Fatal(err)
	}

	patch := photo.Patch{
		Status:         photo.StatusSucceeded,
		Fullsize:       &photo.ImageRef{Key: "album1/fullsize/p1.jpg", Width: 400, Height: 300},
		Thumbnail:      &photo.ImageRef{Key: "album1/resized/p1.jpg", Width: 80, Height: 80},
		Format:         "JPEG",
		ObjectDetected: []string{"Beach"},
	}
	rec, err := m.Update(ctx, "p1", patch, photo.StatusRunning)
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if rec.ProcessingStatus != photo.StatusSucceeded || !rec.Complete() {
		t.Errorf("Update() = %+v, want complete SUCCEEDED", rec)
	}

	// Replay is a conflict and changes nothing.
	before, _ := m.Get(ctx, "p1")
	_, err = m.Update(ctx, "p1", photo.Patch{Status: photo.StatusFailed, FailureReason: "late"}, photo.StatusRunning)
	if !photo.IsConflict(err) {
		t.Fatalf("replayed Update() error = %v, want conflict", err)
	}
	after, _ := m.Get(ctx, "p1")
	if after.ProcessingStatus != before.ProcessingStatus || after.FailureReason != "" {
		t.Errorf("record changed by conflicting update: %+v", after)
	}

	// Missing record.
	if _, err := m.Update(ctx, "nope", patch, photo.StatusRunning); !photo.IsConflict(err) {
		t.Errorf("Update() on missing record error = %v, want conflict", err)
	}

	// Illegal transition is rejected before touching the store.
	if _, err := m.Update(ctx, "p1", photo.Patch{Status: photo.StatusPending}, photo.StatusRunning); err == nil || photo.IsConflict(err) {
		t.Errorf("backwards Update() error = %v, want non-conflict error", err)
	}

	if got, err := m.Get(ctx, "nope"); got != nil || err != nil {
		t.Errorf("Get(missing) = (%v, %v), want (nil, nil)", got, err)
	}
}

// fakeDynamo records the last request and replays canned results.
type fakeDynamo struct {
	update    *dynamodb.UpdateItemInput
	updateOut *dynamodb.UpdateItemOutput
	updateErr error
	getOut    *dynamodb.GetItemOutput
	getErr    error
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return f.getOut, f.getErr
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.update = in
	return f.updateOut, f.updateErr
}

func marshalPhoto(t *testing.T, p *photo.Photo) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		t.Fatalf("MarshalMap: %v", err)
	}
	return item
}

func TestDynamoStoreCreate(t *testing.T) {
	p := runningPhoto("p1")
	fake := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: marshalPhoto(t, p)}}
	s := NewDynamoStore(fake, "Photos")

	rec, err := s.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if rec.ID != "p1" || rec.ProcessingStatus != photo.StatusRunning {
		t.Errorf("Create() = %+v", rec)
	}

	in := fake.update
	if aws.ToString(in.TableName) != "Photos" {
		t.Errorf("table = %s, want Photos", aws.ToString(in.TableName))
	}
	if pk := in.Key["PK"].(*types.AttributeValueMemberS).Value; pk != "PHOTO#p1" {
		t.Errorf("PK = %s, want PHOTO#p1", pk)
	}
	cond := aws.ToString(in.ConditionExpression)
	if !strings.HasPrefix(cond, "attribute_not_exists(PK) OR #processingStatus = ") {
		t.Errorf("condition = %q", cond)
	}
	expr := aws.ToString(in.UpdateExpression)
	for _, want := range []string{
		"#albumId = if_not_exists(#albumId,",
		"#owner = if_not_exists(#owner,",
		"#uploadTime = if_not_exists(#uploadTime,",
		"#orchestrationRef = :",
	} {
		if !strings.Contains(expr, want) {
			t.Errorf("update expression %q missing %q", expr, want)
		}
	}
	if in.ExpressionAttributeNames["#owner"] != "owner" {
		t.Errorf("names = %v", in.ExpressionAttributeNames)
	}
}

func TestDynamoStoreUpdate(t *testing.T) {
	done := runningPhoto("p1")
	done.ProcessingStatus = photo.StatusFailed
	done.FailureReason = "labels: ExternalServiceError"
	fake := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: marshalPhoto(t, done)}}
	s := NewDynamoStore(fake, "Photos")

	rec, err := s.Update(context.Background(), "p1", photo.Patch{
		Status:        photo.StatusFailed,
		Format:        "JPEG",
		FailureReason: "labels: ExternalServiceError",
		FailedStages:  []string{photo.StageLabels},
	}, photo.StatusRunning)
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if rec.ProcessingStatus != photo.StatusFailed {
		t.Errorf("Update() status = %s, want FAILED", rec.ProcessingStatus)
	}

	expr := aws.ToString(fake.update.UpdateExpression)
	if strings.Contains(expr, "#fullsize") || strings.Contains(expr, "#objectDetected") {
		t.Errorf("unset fields written: %q", expr)
	}
	if !strings.Contains(expr, "#format = if_not_exists(#format,") {
		t.Errorf("format not write-once: %q", expr)
	}
	cond := aws.ToString(fake.update.ConditionExpression)
	ph := strings.TrimPrefix(cond, "#processingStatus = ")
	if v, ok := fake.update.ExpressionAttributeValues[ph].(*types.AttributeValueMemberS); !ok || v.Value != "RUNNING" {
		t.Errorf("condition %q does not require RUNNING", cond)
	}
}

func TestDynamoStoreConflict(t *testing.T) {
	fake := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{
		Item: map[string]types.AttributeValue{
			"processingStatus": &types.AttributeValueMemberS{Value: "SUCCEEDED"},
		},
	}}
	s := NewDynamoStore(fake, "Photos")

	_, err := s.Update(context.Background(), "p1", photo.Patch{Status: photo.StatusFailed}, photo.StatusRunning)
	var ce *photo.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("Update() error = %v, want ConflictError", err)
	}
	if ce.Actual != photo.StatusSucceeded {
		t.Errorf("Actual = %s, want SUCCEEDED", ce.Actual)
	}

	fake.updateErr = errors.New("ProvisionedThroughputExceeded")
	_, err = s.Create(context.Background(), runningPhoto("p1"))
	var ext *photo.ExternalServiceError
	if !errors.As(err, &ext) {
		t.Errorf("Create() error = %v, want ExternalServiceError", err)
	}
}

func TestDynamoStoreGet(t *testing.T) {
	fake := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	s := NewDynamoStore(fake, "Photos")

	got, err := s.Get(context.Background(), "missing")
	if got != nil || err != nil {
		t.Errorf("Get(missing) = (%v, %v), want (nil, nil)", got, err)
	}

	p := runningPhoto("p1")
	p.ObjectDetected = []string{"Beach", "Sea"}
	p.GeoLocation = photo.NewGeoLocation(photo.Coordinates{Latitude: 1.5, Longitude: -2.25})
	fake.getOut = &dynamodb.GetItemOutput{Item: marshalPhoto(t, p)}

	got, err = s.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Owner != "alice" || len(got.ObjectDetected) != 2 || got.GeoLocation.Longitude.Direction != "W" {
		t.Errorf("Get() = %+v", got)
	}
	if !got.UploadTime.Equal(p.UploadTime) {
		t.Errorf("UploadTime = %v, want %v", got.UploadTime, p.UploadTime)
	}
}
