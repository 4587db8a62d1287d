// Package orchestrator starts processing runs. A run fans out to the three
// stages, waits for all of them, and hands the combined results to the
// aggregator.
//
// StepFunctions starts a state machine execution per photo; the execution
// name is derived one-to-one from the photo ID, so a repeated start for the same photo is absorbed
// by the service. pipeline.Runner satisfies the same interface in process.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/photo"
)

// Starter starts at most one run per photo ID.
type Starter interface {
	// RunRef returns the handle a run for id has or will have. It is known
	// before the run starts so it can be stored with the record.
	RunRef(id string) string

	// StartRun starts the run for in.ID. Starting an already-started run is
	// not an error; the existing handle is returned.
	StartRun(ctx context.Context, in photo.RunInput) (string, error)
}

// SFNAPI is the subset of the Step Functions client used here.
type SFNAPI interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

var _ SFNAPI = (*sfn.Client)(nil)

// StepFunctions starts executions of the photo processing state machine.
type StepFunctions struct {
	client          SFNAPI
	stateMachineARN string
}

var _ Starter = (*StepFunctions)(nil)

// NewStepFunctions returns a Starter for the given state machine.
func NewStepFunctions(client SFNAPI, stateMachineARN string) *StepFunctions {
	return &StepFunctions{client: client, stateMachineARN: stateMachineARN}
}

// maxExecutionName is the Step Functions limit on execution names.
const maxExecutionName = 80

// ExecutionName maps a photo ID onto the characters Step Functions accepts
// in an execution name. An ID that is already a valid name is used as is.
// Otherwise the sanitized prefix is suffixed with a UUIDv5 of the raw ID, so
// distinct IDs never share a name.
func ExecutionName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == id && len(name) <= maxExecutionName {
		return name
	}
	suffix := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	if n := maxExecutionName - len(suffix) - 1; len(name) > n {
		name = name[:n]
	}
	return name + "-" + suffix
}

// RunRef derives the execution ARN from the state machine ARN:
// arn:...:stateMachine:NAME becomes arn:...:execution:NAME:EXECUTION.
func (s *StepFunctions) RunRef(id string) string {
	base := strings.Replace(s.stateMachineARN, ":stateMachine:", ":execution:", 1)
	return base + ":" + ExecutionName(id)
}

func (s *StepFunctions) StartRun(ctx context.Context, in photo.RunInput) (string, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal run input: %w", err)
	}

	result, err := s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachineARN),
		Input:           aws.String(string(payload)),
		Name:            aws.String(ExecutionName(in.ID)),
	})
	if err != nil {
		var exists *sfntypes.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			log.Info().Str("id", in.ID).Msg("Execution already started for photo")
			return s.RunRef(in.ID), nil
		}
		return "", &photo.ExternalServiceError{Service: "sfn", Op: "StartExecution", Err: err}
	}

	ref := aws.ToString(result.ExecutionArn)
	log.Info().Str("id", in.ID).Str("executionArn", ref).Msg("Processing run started")
	return ref, nil
}
