package handlers

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/amplify-platform/authd/internal/models"
)

type mockSubmitter struct {
	SubmitFunc func(ctx context.Context, cmdType models.CommandType, data any) (json.RawMessage, error)

	lastType models.CommandType
	lastData any
}

func (m *mockSubmitter) SubmitCommand(ctx context.Context, cmdType models.CommandType, data any) (json.RawMessage, error) {
	m.lastType = cmdType
	m.lastData = data
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, cmdType, data)
	}
	return json.RawMessage(`{}`), nil
}

type mockReader struct {
	GetByIDFunc func(ctx context.Context, tokenID uuid.UUID) (*models.Token, error)
	ListFunc    func(ctx context.Context, includeRevoked bool) ([]models.Token, error)
}

func (m *mockReader) GetByID(ctx context.Context, tokenID uuid.UUID) (*models.Token, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, tokenID)
	}
	return nil, nil
}

func (m *mockReader) List(ctx context.Context, includeRevoked bool) ([]models.Token, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, includeRevoked)
	}
	return nil, nil
}

type mockValidator struct {
	ValidateFunc func(ctx context.Context, rawToken string, requiredScopes []string) (*models.ValidationResult, error)

	lastToken  string
	lastScopes []string
}

func (m *mockValidator) Validate(ctx context.Context, rawToken string, requiredScopes []string) (*models.ValidationResult, error) {
	m.lastToken = rawToken
	m.lastScopes = requiredScopes
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, rawToken, requiredScopes)
	}
	return &models.ValidationResult{Valid: true}, nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Health(ctx context.Context) error { return m.err }

type mockProcessorStatus struct {
	running bool
}

func (m *mockProcessorStatus) Running() bool { return m.running }
