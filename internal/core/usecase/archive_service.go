package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/ports"
)

const ndjsonContentType = "application/x-ndjson"

// ArchiveService exports element timelines as NDJSON objects.
type ArchiveService struct {
	timeline *TimelineService
	objects  ports.ObjectStore
	prefix   string
	newID    func() string
}

// NewArchiveService returns a service whose exports fail with
// domain.ErrArchiveDisabled when objects is nil.
func NewArchiveService(timeline *TimelineService, objects ports.ObjectStore, prefix string) *ArchiveService {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &ArchiveService{timeline: timeline, objects: objects, prefix: prefix, newID: uuid.NewString}
}

func (s *ArchiveService) Enabled() bool {
	return s.objects != nil
}

// ExportElement writes one element's records, oldest first, reads the object
// back to confirm it landed intact and returns its key.
func (s *ArchiveService) ExportElement(ctx context.Context, tenant, elementType, elementID string) (string, error) {
	if !s.Enabled() {
		return "", domain.ErrArchiveDisabled
	}
	events, err := s.timeline.ElementTimeline(ctx, tenant, elementType, elementID)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "", domain.ErrNotFound
	}

	body, err := encodeNDJSON(events)
	if err != nil {
		return "", err
	}
	key := s.prefix + path.Join(tenant, elementType, elementID, s.newID()+".ndjson")
	if err := s.objects.Put(ctx, key, body, ndjsonContentType); err != nil {
		return "", fmt.Errorf("put archive %s: %w", key, err)
	}
	stored, err := s.objects.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read back archive %s: %w", key, err)
	}
	if !bytes.Equal(stored, body) {
		return "", fmt.Errorf("%w: %s", domain.ErrArchiveMismatch, key)
	}
	return key, nil
}

func encodeNDJSON(events []domain.TimelineEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}
