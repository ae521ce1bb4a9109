package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
)

type fakeHashes struct {
	known map[string]*entity.CardRecord
	err   error
}

func (f *fakeHashes) FindByHash(_ context.Context, orgID, hash string) (*entity.CardRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if rec, ok := f.known[orgID+"/"+hash]; ok {
		return rec, nil
	}
	return nil, common.ErrNotFound
}

type fakeFields struct {
	calls  int
	fields entity.CardFields
	err    error
}

func (f *fakeFields) ExtractCardFields(context.Context, []ImageRef) (entity.CardFields, []byte, error) {
	f.calls++
	return f.fields, []byte(`{}`), f.err
}

func images(front, back string) []ImageRef {
	refs := []ImageRef{{Side: "front", Data: []byte(front)}}
	if back != "" {
		refs = append(refs, ImageRef{Side: "back", Data: []byte(back)})
	}
	return refs
}

func TestContentHash(t *testing.T) {
	h := ContentHash([]byte("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)

	fromReader, err := HashReader(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, h, fromReader)
}

func TestService_ExtractsNewCard(t *testing.T) {
	fields := &fakeFields{fields: entity.CardFields{FirstName: "Ada"}}
	svc := NewService(&fakeHashes{}, fields, nil)

	res, err := svc.Extract(context.Background(), Request{Images: images("front", "back"), Org: entity.OrgContext{OrgID: "org-1"}})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "Ada", res.Fields.FirstName)
	assert.Equal(t, []string{ContentHash([]byte("front")), ContentHash([]byte("back"))}, res.ContentHashes)
	assert.Equal(t, 1, fields.calls)
}

func TestService_DuplicateSkipsExtraction(t *testing.T) {
	hash := ContentHash([]byte("front"))
	hashes := &fakeHashes{known: map[string]*entity.CardRecord{"org-1/" + hash: {ID: uuid.New(), ContentHash: hash}}}
	fields := &fakeFields{}
	svc := NewService(hashes, fields, nil)

	res, err := svc.Extract(context.Background(), Request{Images: images("front", ""), Org: entity.OrgContext{OrgID: "org-1"}})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, hash, res.MatchedHash)
	assert.Zero(t, fields.calls)

	// same bytes in another org are not a duplicate
	res, err = svc.Extract(context.Background(), Request{Images: images("front", ""), Org: entity.OrgContext{OrgID: "org-2"}})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestService_Errors(t *testing.T) {
	t.Run("no images", func(t *testing.T) {
		_, err := NewService(&fakeHashes{}, &fakeFields{}, nil).Extract(context.Background(), Request{})
		assert.Equal(t, common.CodeExtractionValidation, common.Classify(err))
	})
	t.Run("empty image", func(t *testing.T) {
		_, err := NewService(&fakeHashes{}, &fakeFields{}, nil).Extract(context.Background(), Request{Images: images("", "")})
		assert.Equal(t, common.CodeExtractionValidation, common.Classify(err))
	})
	t.Run("lookup failure", func(t *testing.T) {
		svc := NewService(&fakeHashes{err: errors.New("db down")}, &fakeFields{}, nil)
		_, err := svc.Extract(context.Background(), Request{Images: images("front", "")})
		assert.Equal(t, common.CodePersistence, common.Classify(err))
	})
	t.Run("extractor failure passes through", func(t *testing.T) {
		svc := NewService(&fakeHashes{}, &fakeFields{err: common.ErrRateLimited}, nil)
		res, err := svc.Extract(context.Background(), Request{Images: images("front", "")})
		assert.ErrorIs(t, err, common.ErrRateLimited)
		assert.Len(t, res.ContentHashes, 1)
	})
}
