package testsupport

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3APIError implements smithy.APIError for fake S3 responses.
type S3APIError struct {
	Code string
	Msg  string
}

func (e *S3APIError) Error() string                 { return e.Msg }
func (e *S3APIError) ErrorCode() string             { return e.Code }
func (e *S3APIError) ErrorMessage() string          { return e.Msg }
func (e *S3APIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

// FakeS3 is a thread-safe in-memory S3 backend for tests.
type FakeS3 struct {
	mu       sync.Mutex
	Objects  map[string][]byte
	Metadata map[string]map[string]string

	// Call counters for asserting idempotency.
	PutCalls  int
	HeadCalls int
	GetCalls  int

	// Optional hooks to inject errors.
	GetErr  error
	PutErr  error
	HeadErr error
}

// NewFakeS3 returns an empty fake backend.
func NewFakeS3() *FakeS3 {
	return &FakeS3{
		Objects:  make(map[string][]byte),
		Metadata: make(map[string]map[string]string),
	}
}

// Seed stores an object directly, bypassing the PutObject path.
func (f *FakeS3) Seed(key string, data []byte, metadata map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Objects[key] = data
	f.Metadata[key] = metadata
}

func (f *FakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	data, ok := f.Objects[*in.Key]
	if !ok {
		return nil, &S3APIError{Code: "NoSuchKey", Msg: "no such key"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *FakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++
	if f.PutErr != nil {
		return nil, f.PutErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.Objects[*in.Key] = data
	f.Metadata[*in.Key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *FakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HeadCalls++
	if f.HeadErr != nil {
		return nil, f.HeadErr
	}
	if _, ok := f.Objects[*in.Key]; !ok {
		return nil, &S3APIError{Code: "NotFound", Msg: "not found"}
	}
	return &s3.HeadObjectOutput{Metadata: f.Metadata[*in.Key]}, nil
}
