package script

import (
	"context"
	"script-desk/internal/domain"
	"script-desk/internal/lease"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ScopeExists(ctx context.Context, scope domain.Scope) (bool, error) {
	args := m.Called(ctx, scope)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) GetDraft(ctx context.Context, scope domain.Scope) (*domain.ScriptEntry, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScriptEntry), args.Error(1)
}

func (m *MockRepository) SaveDraft(ctx context.Context, scope domain.Scope, content, editor string, at time.Time) (int, error) {
	args := m.Called(ctx, scope, content, editor, at)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) CommitVersion(ctx context.Context, scope domain.Scope, content, editor string, at time.Time) (*domain.Version, error) {
	args := m.Called(ctx, scope, content, editor, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Version), args.Error(1)
}

func (m *MockRepository) ListVersions(ctx context.Context, scope domain.Scope) ([]domain.Version, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Version), args.Error(1)
}

type MockLeaseManager struct {
	mock.Mock
}

func (m *MockLeaseManager) Acquire(ctx context.Context, scope domain.Scope, claim lease.Claim) (domain.Lease, error) {
	args := m.Called(ctx, scope, claim)
	return args.Get(0).(domain.Lease), args.Error(1)
}

func (m *MockLeaseManager) Release(ctx context.Context, scope domain.Scope, user, session string) (bool, error) {
	args := m.Called(ctx, scope, user, session)
	return args.Bool(0), args.Error(1)
}

func (m *MockLeaseManager) Status(ctx context.Context, scope domain.Scope) (*domain.Lease, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Lease), args.Error(1)
}

// mock implementation of the Service interface
type MockService struct {
	mock.Mock
}

func (m *MockService) GetCurrent(ctx context.Context, scope domain.Scope) (*domain.Draft, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Draft), args.Error(1)
}

func (m *MockService) AcquireLease(ctx context.Context, scope domain.Scope, claim lease.Claim) (*domain.Lease, error) {
	args := m.Called(ctx, scope, claim)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Lease), args.Error(1)
}

func (m *MockService) ReleaseLease(ctx context.Context, scope domain.Scope, user, session string) (bool, error) {
	args := m.Called(ctx, scope, user, session)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) SaveDraft(ctx context.Context, scope domain.Scope, content, editor string) (int, error) {
	args := m.Called(ctx, scope, content, editor)
	return args.Int(0), args.Error(1)
}

func (m *MockService) CommitVersion(ctx context.Context, scope domain.Scope, content, editor string) (*domain.Version, error) {
	args := m.Called(ctx, scope, content, editor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Version), args.Error(1)
}

func (m *MockService) ListVersions(ctx context.Context, scope domain.Scope) ([]domain.Version, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Version), args.Error(1)
}
