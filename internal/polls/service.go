package polls

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxpoll/voxpoll/internal/shared"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service carries poll business rules over a RepositoryPort.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService constructs a poll service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Create(ctx context.Context, createdBy int64, req CreatePollRequest) (Poll, error) {
	if err := validateWindow(req.StartsAt, req.EndsAt); err != nil {
		return Poll{}, err
	}
	requiresAuth := true
	if req.RequiresAuth != nil {
		requiresAuth = *req.RequiresAuth
	}
	p := Poll{
		ID:           uuid.New(),
		Title:        req.Title,
		Description:  req.Description,
		PollType:     req.PollType,
		Status:       StatusDraft,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
		IsAnonymous:  req.IsAnonymous,
		RequiresAuth: requiresAuth,
		CreatedBy:    createdBy,
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Poll, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Poll, error) {
	if filter.Status != "" && !ValidStatus(filter.Status) {
		return nil, shared.NewValidationError("status", "unknown poll status")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdatePollRequest) (Poll, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Poll{}, err
	}
	if req.Title != nil {
		current.Title = *req.Title
	}
	if req.Description != nil {
		current.Description = req.Description
	}
	if req.PollType != nil {
		current.PollType = *req.PollType
	}
	if req.StartsAt != nil {
		current.StartsAt = req.StartsAt
	}
	if req.EndsAt != nil {
		current.EndsAt = req.EndsAt
	}
	if req.IsAnonymous != nil {
		current.IsAnonymous = *req.IsAnonymous
	}
	if req.RequiresAuth != nil {
		current.RequiresAuth = *req.RequiresAuth
	}
	if err := validateWindow(current.StartsAt, current.EndsAt); err != nil {
		return Poll{}, err
	}
	return s.repo.Update(ctx, current)
}

func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status string) (Poll, error) {
	if !ValidStatus(status) {
		return Poll{}, shared.NewValidationError("status", "unknown poll status")
	}
	return s.repo.SetStatus(ctx, id, status)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func validateWindow(startsAt, endsAt *time.Time) error {
	if startsAt != nil && endsAt != nil && !endsAt.After(*startsAt) {
		return shared.NewValidationError("ends_at", "must be after starts_at")
	}
	return nil
}
