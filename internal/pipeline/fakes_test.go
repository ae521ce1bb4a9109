package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/internal/crm"
	"github.com/joseph-ayodele/connect-cards/internal/extract"
)

type fakeUploader struct {
	mu          sync.Mutex
	requests    []UploadRequest
	transferred map[string][]byte
	requestErr  error
	transferErr error
}

func (f *fakeUploader) RequestUpload(_ context.Context, req UploadRequest) (UploadTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return UploadTicket{}, f.requestErr
	}
	f.requests = append(f.requests, req)
	n := len(f.requests)
	return UploadTicket{UploadURL: fmt.Sprintf("https://bucket/%d", n), StorageKey: fmt.Sprintf("key-%d-%s", n, req.FileName)}, nil
}

func (f *fakeUploader) Transfer(_ context.Context, url string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return f.transferErr
	}
	if f.transferred == nil {
		f.transferred = map[string][]byte{}
	}
	f.transferred[url] = data
	return nil
}

type extractFunc func(ctx context.Context, req extract.Request) (extract.Result, error)

func (f extractFunc) Extract(ctx context.Context, req extract.Request) (extract.Result, error) {
	return f(ctx, req)
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []SaveRequest
	dup   bool
	err   error
}

func (f *fakeSaver) SaveCard(_ context.Context, req SaveRequest) (SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return SaveResult{}, f.err
	}
	f.saved = append(f.saved, req)
	return SaveResult{RecordID: uuid.New(), Duplicate: f.dup}, nil
}

type fakeFanout struct {
	mu       sync.Mutex
	contacts []crm.Contact
}

func (f *fakeFanout) Enqueue(c crm.Contact) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, c)
	return true
}
