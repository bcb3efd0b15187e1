package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	FullName *string          `json:"full_name" validate:"omitempty,min=1,max=255"`
	Role     *models.UserRole `json:"role" validate:"omitempty,oneof=ADMIN REVIEWER USER"`
	Active   *bool            `json:"active"`
}

// UserService handles user management workflows.
type UserService struct {
	repo      userRepository
	audit     auditRecorder
	tx        txRunner
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, audit auditRecorder, tx txRunner, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if tx == nil {
		tx = directTx{}
	}
	return &UserService{repo: repo, audit: audit, tx: tx, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Update modifies the user's name, role or active flag.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actor Actor) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if id == actor.ID && ((req.Role != nil && *req.Role != user.Role) || (req.Active != nil && !*req.Active)) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot change own role or deactivate self")
	}

	var changes []string
	if req.FullName != nil && strings.TrimSpace(*req.FullName) != user.FullName {
		user.FullName = strings.TrimSpace(*req.FullName)
		changes = append(changes, "full_name")
	}
	if req.Role != nil && *req.Role != user.Role {
		changes = append(changes, fmt.Sprintf("role=%s->%s", user.Role, *req.Role))
		user.Role = *req.Role
	}
	if req.Active != nil && *req.Active != user.Active {
		changes = append(changes, fmt.Sprintf("active=%t", *req.Active))
		user.Active = *req.Active
	}
	if len(changes) == 0 {
		return user, nil
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, user); err != nil {
			return err
		}
		return s.audit.Record(ctx, AuditEntry{
			ActorID:      &actor.ID,
			Action:       models.AuditActionUserUpdate,
			ResourceType: models.ResourceUser,
			ResourceID:   &user.ID,
			Details:      strPtr(strings.Join(changes, " ")),
			IP:           strPtr(actor.Meta.IP),
			UserAgent:    strPtr(actor.Meta.UserAgent),
		})
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	if !user.Active {
		s.revokeSessions(ctx, user.ID)
	}
	return user, nil
}

// Deactivate performs a soft delete and ends the user's sessions.
func (s *UserService) Deactivate(ctx context.Context, id string, actor Actor) error {
	if id == actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot deactivate self")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !user.Active {
		return nil
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Deactivate(ctx, id); err != nil {
			return err
		}
		return s.audit.Record(ctx, AuditEntry{
			ActorID:      &actor.ID,
			Action:       models.AuditActionUserDeactivate,
			ResourceType: models.ResourceUser,
			ResourceID:   &user.ID,
			IP:           strPtr(actor.Meta.IP),
			UserAgent:    strPtr(actor.Meta.UserAgent),
		})
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}

	s.revokeSessions(ctx, id)
	return nil
}

func (s *UserService) revokeSessions(ctx context.Context, userID string) {
	if err := s.repo.RevokeUserRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens of inactive user", zap.String("user_id", userID), zap.Error(err))
	}
}
