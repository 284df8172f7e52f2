package lambda

import (
	"context"
	"errors"
	"fmt"
	"lambdabridge/internal/apperrors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go/middleware"
)

type fakeAPI struct {
	requestID string
	err       error
	block     bool

	got *awslambda.InvokeInput
}

func (f *fakeAPI) Invoke(ctx context.Context, in *awslambda.InvokeInput, _ ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error) {
	f.got = in
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	var md middleware.Metadata
	if f.requestID != "" {
		awsmiddleware.SetRequestIDMetadata(&md, f.requestID)
	}
	return &awslambda.InvokeOutput{StatusCode: 202, ResultMetadata: md}, nil
}

func TestInvoke_Async(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{requestID: "c0ffee-1"}
	c := NewWithAPI(api, time.Second)

	id, err := c.Invoke(context.Background(), "arn:aws:lambda:us-east-1:1:function:fn", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if id != "c0ffee-1" {
		t.Errorf("request id = %q", id)
	}
	if api.got.InvocationType != types.InvocationTypeEvent {
		t.Errorf("InvocationType = %q, want Event", api.got.InvocationType)
	}
	if aws.ToString(api.got.FunctionName) != "arn:aws:lambda:us-east-1:1:function:fn" {
		t.Errorf("FunctionName = %q", aws.ToString(api.got.FunctionName))
	}
	if string(api.got.Payload) != `{"a":1}` {
		t.Errorf("Payload = %s", api.got.Payload)
	}
}

func TestInvoke_MissingRequestID(t *testing.T) {
	t.Parallel()
	id, err := NewWithAPI(&fakeAPI{}, time.Second).Invoke(context.Background(), "fn", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if id != "unknown" {
		t.Errorf("request id = %q, want unknown", id)
	}
}

func TestInvoke_Errors(t *testing.T) {
	t.Parallel()

	t.Run("api error", func(t *testing.T) {
		t.Parallel()
		denied := errors.New("AccessDeniedException")
		_, err := NewWithAPI(&fakeAPI{err: denied}, time.Second).Invoke(context.Background(), "fn", nil)
		if !errors.Is(err, apperrors.ErrInvocation) || !errors.Is(err, denied) {
			t.Errorf("error = %v", err)
		}
		if !apperrors.IsTransient(err) {
			t.Error("invocation failure must be transient")
		}
	})

	t.Run("deadline", func(t *testing.T) {
		t.Parallel()
		_, err := NewWithAPI(&fakeAPI{block: true}, 20*time.Millisecond).Invoke(context.Background(), "fn", nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error = %v, want deadline exceeded", err)
		}
	})
}

type fakeLister struct {
	pages [][]types.FunctionConfiguration
	err   error
}

func (f *fakeLister) ListFunctions(_ context.Context, in *awslambda.ListFunctionsInput, _ ...func(*awslambda.Options)) (*awslambda.ListFunctionsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	idx := 0
	if in.Marker != nil {
		fmt.Sscanf(*in.Marker, "page-%d", &idx)
	}
	out := &awslambda.ListFunctionsOutput{Functions: f.pages[idx]}
	if idx+1 < len(f.pages) {
		out.NextMarker = aws.String(fmt.Sprintf("page-%d", idx+1))
	}
	return out, nil
}

func TestListFunctions_Paginates(t *testing.T) {
	t.Parallel()
	lister := &fakeLister{pages: [][]types.FunctionConfiguration{
		{{FunctionName: aws.String("a"), FunctionArn: aws.String("arn:aws:lambda:us-east-1:1:function:a"), Runtime: types.Runtime("provided.al2023")}},
		{{FunctionName: aws.String("b"), FunctionArn: aws.String("arn:aws:lambda:us-east-1:1:function:b")}},
	}}

	fns, err := ListFunctions(context.Background(), lister)
	if err != nil {
		t.Fatalf("ListFunctions: %v", err)
	}
	if len(fns) != 2 || fns[0].Name != "a" || fns[1].Name != "b" {
		t.Fatalf("functions = %+v", fns)
	}
	if fns[0].Runtime != string(types.Runtime("provided.al2023")) {
		t.Errorf("runtime = %q", fns[0].Runtime)
	}
}

func TestListFunctions_Error(t *testing.T) {
	t.Parallel()
	_, err := ListFunctions(context.Background(), &fakeLister{err: errors.New("denied")})
	if !errors.Is(err, apperrors.ErrInvocation) {
		t.Errorf("err = %v, want ErrInvocation", err)
	}
}
