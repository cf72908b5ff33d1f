package service

import (
	"context"

	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
)

func (s *Service) StatusLock(ctx context.Context, header *Header, key string) (*t_api.StatusLockResponse, *t_api.Error) {
	done := s.observe(t_api.StatusLock)

	status, err := s.coordinator.Status(ctx, key)
	if err != nil {
		done(err.Code())
		return nil, err
	}

	done(t_api.StatusOK)
	return &t_api.StatusLockResponse{
		Status: t_api.StatusOK,
		Lock:   status,
	}, nil
}

func (s *Service) ReleaseLock(ctx context.Context, header *Header, key string, owner string) (*t_api.ReleaseLockResponse, *t_api.Error) {
	done := s.observe(t_api.ReleaseLock)

	released, err := s.coordinator.Release(ctx, key, owner)
	if err != nil {
		done(err.Code())
		return nil, err
	}

	done(t_api.StatusOK)
	return &t_api.ReleaseLockResponse{
		Status:   t_api.StatusOK,
		Released: released,
	}, nil
}

// ForceReleaseLock bypasses ownership and is restricted to callers the
// transport has marked as administrative.
func (s *Service) ForceReleaseLock(ctx context.Context, header *Header, key string) (*t_api.ForceReleaseLockResponse, *t_api.Error) {
	done := s.observe(t_api.ForceReleaseLock)

	if !header.Admin {
		done(t_api.StatusForbidden)
		return nil, t_api.NewError(t_api.StatusForbidden, nil)
	}

	released, err := s.coordinator.ForceRelease(ctx, key)
	if err != nil {
		done(err.Code())
		return nil, err
	}

	done(t_api.StatusOK)
	return &t_api.ForceReleaseLockResponse{
		Status:   t_api.StatusOK,
		Released: released,
	}, nil
}
