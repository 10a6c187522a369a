package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labops/relay/internal/model"
	"github.com/labops/relay/internal/repository"
	"github.com/labops/relay/internal/util"
)

const MaxLookupKeys = 500

var (
	ErrNoLookupKeys  = errors.New("no valid lookup keys")
	ErrTooManyKeys   = fmt.Errorf("more than %d lookup keys", MaxLookupKeys)
	ErrMissingSource = errors.New("source service is required")
)

// Service accepts on-demand sync-up requests; the sync-up worker picks them up.
type Service struct {
	repo  repository.SyncUpRepository
	now   func() time.Time
	newID func() string
}

func New(repo repository.SyncUpRepository) *Service {
	return &Service{repo: repo, now: time.Now, newID: util.NewULID}
}

// Submit normalizes keys (dropping blanks and duplicates) and stores a
// PENDING request.
func (s *Service) Submit(ctx context.Context, sourceService string, keys []string) (model.SyncUpRequest, error) {
	sourceService = strings.TrimSpace(sourceService)
	if sourceService == "" {
		return model.SyncUpRequest{}, ErrMissingSource
	}

	norm := util.NormalizeLookupKeys(keys)
	if len(norm) == 0 {
		return model.SyncUpRequest{}, ErrNoLookupKeys
	}
	if len(norm) > MaxLookupKeys {
		return model.SyncUpRequest{}, ErrTooManyKeys
	}

	msg, err := model.EncodeLookupKeys(norm)
	if err != nil {
		return model.SyncUpRequest{}, fmt.Errorf("encode lookup keys: %w", err)
	}

	now := s.now().UTC()
	req := model.SyncUpRequest{
		ID:            s.newID(),
		SourceService: sourceService,
		MessageID:     msg,
		Status:        model.SyncUpPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, req); err != nil {
		return model.SyncUpRequest{}, fmt.Errorf("insert sync-up request: %w", err)
	}
	return req, nil
}
