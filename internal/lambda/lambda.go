// Package lambda invokes AWS Lambda functions asynchronously.
package lambda

import (
	"context"
	"lambdabridge/internal/apperrors"
	"lambdabridge/internal/envelope"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// API is the part of the Lambda client the invoker uses.
type API interface {
	Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

// Client fires Event-type invocations. Safe for concurrent use.
type Client struct {
	api     API
	timeout time.Duration
}

// New creates a client from an SDK configuration.
func New(cfg aws.Config, timeout time.Duration) *Client {
	return NewWithAPI(awslambda.NewFromConfig(cfg), timeout)
}

// NewWithAPI creates a client over an existing API implementation.
func NewWithAPI(api API, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{api: api, timeout: timeout}
}

// Invoke queues the function for execution and returns once Lambda has
// accepted it. The returned id is the AWS request id, or
// envelope.UnknownRequestID when the response carries none.
func (c *Client) Invoke(ctx context.Context, arn string, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.api.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName:   aws.String(arn),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return "", apperrors.Invocation("lambda.Invoke", err)
	}

	if id, ok := awsmiddleware.GetRequestIDMetadata(out.ResultMetadata); ok && id != "" {
		return id, nil
	}
	return envelope.UnknownRequestID, nil
}

// Function summarises one deployed function.
type Function struct {
	Name         string `json:"name"`
	ARN          string `json:"arn"`
	Runtime      string `json:"runtime,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

// ListFunctions returns every function visible to the credentials, following
// pagination to the end.
func ListFunctions(ctx context.Context, api awslambda.ListFunctionsAPIClient) ([]Function, error) {
	var functions []Function
	pages := awslambda.NewListFunctionsPaginator(api, &awslambda.ListFunctionsInput{})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, apperrors.Invocation("lambda.ListFunctions", err)
		}
		for _, fn := range page.Functions {
			functions = append(functions, Function{
				Name:         aws.ToString(fn.FunctionName),
				ARN:          aws.ToString(fn.FunctionArn),
				Runtime:      string(fn.Runtime),
				LastModified: aws.ToString(fn.LastModified),
			})
		}
	}
	return functions, nil
}
