package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/extract"
)

type UploadStage struct {
	Uploader      Uploader
	MaxImageBytes int64
	Logger        *slog.Logger
}

func NewUploadStage(up Uploader, maxImageBytes int64, logger *slog.Logger) *UploadStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadStage{Uploader: up, MaxImageBytes: maxImageBytes, Logger: logger}
}

// Run uploads each present side and returns refs in front, back order.
// Refs of sides that did upload are returned alongside an error so they can be logged.
func (s *UploadStage) Run(ctx context.Context, job Job) ([]extract.ImageRef, error) {
	sides := []struct {
		name string
		img  *Image
	}{{SideFront, &job.Front}, {SideBack, job.Back}}

	refs := make([]extract.ImageRef, 0, 2)
	for _, side := range sides {
		if side.img == nil {
			continue
		}
		ref, err := s.uploadSide(ctx, job, side.name, *side.img)
		if err != nil {
			s.Logger.Error("pipeline.upload.failed", "item_id", job.ItemID, "side", side.name, "error", err)
			return refs, err
		}
		refs = append(refs, ref)
	}
	s.Logger.Info("pipeline.upload.ok", "item_id", job.ItemID, "sides", len(refs))
	return refs, nil
}

func (s *UploadStage) uploadSide(ctx context.Context, job Job, side string, img Image) (extract.ImageRef, error) {
	size := int64(len(img.Data))
	if size == 0 {
		return extract.ImageRef{}, common.NewAppError(common.CodeExtractionValidation, side+" image is empty", common.ErrValidation)
	}
	if s.MaxImageBytes > 0 && size > s.MaxImageBytes {
		return extract.ImageRef{}, common.NewAppError(common.CodeUploadRejected,
			fmt.Sprintf("%s image is %d bytes, limit is %d", side, size, s.MaxImageBytes), common.ErrUploadRejected)
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	name := img.FileName
	if name == "" {
		name = fmt.Sprintf("%s-%s.%s", job.ItemID, side, extFor(contentType))
	}

	ticket, err := s.Uploader.RequestUpload(ctx, UploadRequest{
		FileName:    name,
		ContentType: contentType,
		Size:        size,
		Org:         job.Org,
	})
	if err != nil {
		return extract.ImageRef{}, uploadError("request "+side+" upload", err)
	}
	if err := s.Uploader.Transfer(ctx, ticket.UploadURL, img.Data, contentType); err != nil {
		return extract.ImageRef{}, uploadError("transfer "+side+" image", err)
	}
	return extract.ImageRef{
		Side:        side,
		StorageKey:  ticket.StorageKey,
		ContentType: contentType,
		Data:        img.Data,
	}, nil
}

// uploadError keeps network and rate limit codes; any other client error from
// the upload service is a rejection rather than an unreadable card.
func uploadError(msg string, err error) error {
	code := common.Classify(err)
	switch code {
	case common.CodeExtractionValidation, common.CodeUnauthorized:
		code = common.CodeUploadRejected
	}
	return common.NewAppError(code, msg, err)
}

func extFor(contentType string) string {
	if i := strings.LastIndex(contentType, "/"); i >= 0 && i < len(contentType)-1 {
		return contentType[i+1:]
	}
	return "bin"
}
