// Package remote is the client side of the remote entity service: the
// Service contract, its HTTP implementation and a retrying decorator.
package remote

import "context"

// Service is the subset of the remote entity API used by the worker. List
// operations follow pagination internally and return every result.
//
// Errors are *errors.EnhancedError values: CategoryNotFound for 404,
// CategoryRemoteTransient for 5xx and CategoryRemote for any other status.
// The status code is available through errors.StatusCode.
type Service interface {
	RetrieveElement(ctx context.Context, id string) (*ElementRecord, error)
	ListChildren(ctx context.Context, parentID string, filter ElementFilter) ([]ElementRecord, error)
	ListProcessElements(ctx context.Context, processID string) ([]ElementRecord, error)
	ListTranscriptions(ctx context.Context, elementID string, filter TranscriptionFilter) ([]TranscriptionRecord, error)

	CreateElement(ctx context.Context, req CreateElementRequest) (*Created, error)
	CreateElements(ctx context.Context, parentID string, req CreateElementsRequest) ([]Created, error)
	CreateTranscription(ctx context.Context, elementID string, req CreateTranscriptionRequest) (*TranscriptionRecord, error)
	CreateTranscriptions(ctx context.Context, req CreateTranscriptionsRequest) (*CreateTranscriptionsResponse, error)
	CreateElementTranscriptions(ctx context.Context, elementID string, req CreateElementTranscriptionsRequest) ([]ElementTranscriptionResult, error)

	UpdateActivity(ctx context.Context, workerVersionID string, req ActivityRequest) error
}
