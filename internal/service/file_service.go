package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
	"github.com/noah-isme/esg-compliance-api/pkg/storage"
)

type fileStore interface {
	Create(ctx context.Context, file *models.FileUpload) error
	FindByID(ctx context.Context, id string) (*models.FileUpload, error)
	List(ctx context.Context, filter models.FileFilter) ([]models.FileUpload, int, error)
	UpdateStatus(ctx context.Context, id string, from, to models.FileStatus, now time.Time) (bool, error)
	ResetForRescore(ctx context.Context, id string, lease time.Duration, now time.Time) (bool, error)
}

type commentStore interface {
	Create(ctx context.Context, comment *models.Comment) error
	ListByFile(ctx context.Context, fileID string) ([]models.Comment, error)
}

type analysisReader interface {
	LatestByFile(ctx context.Context, fileID string) (*models.AIResult, error)
}

type checklistLookup interface {
	FindByID(ctx context.Context, id string) (*models.Checklist, error)
}

type auditAppender interface {
	Append(ctx context.Context, entry AuditEntry) (string, error)
}

type eventDispatcher interface {
	Dispatch(ctx context.Context, event DomainEvent) bool
}

type downloadSigner interface {
	Generate(resourceID, key string) (string, time.Time, error)
	Parse(token string) (resourceID, key string, err error)
}

// FileConfig bounds uploads and shapes download links.
type FileConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	DownloadPath     string
	// ClaimLease matches the scoring worker lease; older processing claims
	// may be reset by a rescore.
	ClaimLease time.Duration
}

// UploadInput is one evidence file received from a client.
type UploadInput struct {
	ChecklistID string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// FileService manages evidence uploads and their review lifecycle.
type FileService struct {
	files      fileStore
	comments   commentStore
	results    analysisReader
	checklists checklistLookup
	audit      auditAppender
	dispatcher eventDispatcher
	publisher  ScoringPublisher
	store      storage.ObjectStore
	signer     downloadSigner
	tx         txRunner
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        FileConfig
	allowed    map[string]struct{}
	now        func() time.Time
}

// FileServiceDeps groups FileService collaborators.
type FileServiceDeps struct {
	Files      fileStore
	Comments   commentStore
	Results    analysisReader
	Checklists checklistLookup
	Audit      auditAppender
	Dispatcher eventDispatcher
	Publisher  ScoringPublisher
	Store      storage.ObjectStore
	Signer     downloadSigner
	Tx         txRunner
}

// NewFileService constructs a FileService.
func NewFileService(deps FileServiceDeps, validate *validator.Validate, logger *zap.Logger, cfg FileConfig) *FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	tx := deps.Tx
	if tx == nil {
		tx = directTx{}
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/v1/files/download"
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = defaultClaimLease
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, m := range cfg.AllowedMIMEs {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &FileService{
		files:      deps.Files,
		comments:   deps.Comments,
		results:    deps.Results,
		checklists: deps.Checklists,
		audit:      deps.Audit,
		dispatcher: deps.Dispatcher,
		publisher:  deps.Publisher,
		store:      deps.Store,
		signer:     deps.Signer,
		tx:         tx,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
		allowed:    allowed,
		now:        time.Now,
	}
}

// Upload stores the file, records metadata and audit together and queues scoring.
func (s *FileService) Upload(ctx context.Context, actor Actor, in UploadInput) (*models.FileUpload, error) {
	if strings.TrimSpace(in.ChecklistID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "checklist_id is required")
	}
	if in.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	if s.cfg.MaxFileSizeBytes > 0 && in.Size > s.cfg.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSizeBytes))
	}
	mimeType := normaliseMIME(in.ContentType)
	if _, ok := s.allowed[mimeType]; !ok {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedMedia, fmt.Sprintf("content type %q is not accepted", mimeType))
	}

	checklist, err := s.checklists.FindByID(ctx, in.ChecklistID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "checklist not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load checklist")
	}
	if !checklist.IsActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "checklist is not active")
	}

	id := uuid.NewString()
	original := filepath.Base(strings.TrimSpace(in.Filename))
	stored := id + strings.ToLower(filepath.Ext(original))
	file := &models.FileUpload{
		ID:               id,
		UserID:           actor.ID,
		ChecklistID:      checklist.ID,
		Filename:         stored,
		OriginalFilename: original,
		StorageKey:       checklist.ID + "/" + stored,
		FileSize:         in.Size,
		MimeType:         mimeType,
		Status:           models.FileStatusPending,
		ProcessingStatus: models.ProcessingPending,
	}

	if err := s.store.Put(ctx, file.StorageKey, io.LimitReader(in.Body, in.Size), in.Size, mimeType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.files.Create(ctx, file); err != nil {
			return err
		}
		_, err := s.audit.Append(ctx, AuditEntry{
			ActorID:      &actor.ID,
			Action:       models.AuditActionFileUpload,
			ResourceType: models.ResourceFile,
			ResourceID:   &file.ID,
			Details:      strPtr(fmt.Sprintf("checklist=%s name=%s size=%d", checklist.ID, original, in.Size)),
			IP:           strPtr(actor.Meta.IP),
			UserAgent:    strPtr(actor.Meta.UserAgent),
		})
		return err
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, file.StorageKey); delErr != nil {
			s.logger.Warn("failed to remove orphaned object", zap.String("key", file.StorageKey), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record upload")
	}

	s.queueScoring(ctx, file.ID)
	return file, nil
}

// List returns uploads visible to the actor.
func (s *FileService) List(ctx context.Context, actor Actor, filter models.FileFilter) ([]models.FileUpload, *models.Pagination, error) {
	if !actor.Role.CanReview() {
		filter.OwnerID = actor.ID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown status filter")
	}
	files, total, err := s.files.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list files")
	}
	return files, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns one upload when the actor may see it.
func (s *FileService) Get(ctx context.Context, actor Actor, id string) (*models.FileUpload, error) {
	file, err := s.files.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	if file.UserID != actor.ID && !actor.Role.CanReview() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "file belongs to another user")
	}
	return file, nil
}

// DownloadLink issues a short lived signed URL for the stored object.
func (s *FileService) DownloadLink(ctx context.Context, actor Actor, id string) (*models.DownloadLink, error) {
	file, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(file.ID, file.StorageKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &models.DownloadLink{
		URL:       strings.TrimRight(s.cfg.DownloadPath, "/") + "/" + token,
		ExpiresAt: expiresAt,
	}, nil
}

// OpenDownload resolves a signed token to the stored object. Callers close the reader.
func (s *FileService) OpenDownload(ctx context.Context, token string) (*models.FileUpload, io.ReadCloser, error) {
	fileID, key, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.ErrDownloadLinkExpired
		}
		return nil, nil, appErrors.ErrDownloadLinkInvalid
	}
	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	if file.StorageKey != key {
		return nil, nil, appErrors.ErrDownloadLinkInvalid
	}
	rc, err := s.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "stored object missing")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return file, rc, nil
}

// UpdateStatus moves an upload through review. The transition and its audit
// entry commit together; the owner is notified after commit.
func (s *FileService) UpdateStatus(ctx context.Context, actor Actor, id string, req models.UpdateFileStatusRequest) (*models.FileUpload, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !actor.Role.CanReview() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "reviewer role required")
	}

	file, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if file.Status == req.Status {
		return file, nil
	}
	if req.Status == models.FileStatusApproved && file.ProcessingStatus != models.ProcessingCompleted {
		return nil, appErrors.ErrScoringIncomplete
	}

	from := file.Status
	var transitionID string
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		changed, err := s.files.UpdateStatus(ctx, file.ID, from, req.Status, s.now().UTC())
		if err != nil {
			return err
		}
		if !changed {
			return appErrors.Clone(appErrors.ErrConflict, "file changed concurrently, reload and retry")
		}
		transitionID, err = s.audit.Append(ctx, AuditEntry{
			ActorID:      &actor.ID,
			Action:       models.AuditActionStatusChange,
			ResourceType: models.ResourceFile,
			ResourceID:   &file.ID,
			Details:      strPtr(fmt.Sprintf("%s->%s", from, req.Status)),
			IP:           strPtr(actor.Meta.IP),
			UserAgent:    strPtr(actor.Meta.UserAgent),
		})
		return err
	})
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrConflict.Code) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update file status")
	}

	file.Status = req.Status
	s.dispatcher.Dispatch(ctx, StatusChanged{File: *file, NewStatus: req.Status, ActorID: actor.ID, TransitionID: transitionID})
	return file, nil
}

// AddComment appends a comment and notifies the owner.
func (s *FileService) AddComment(ctx context.Context, actor Actor, fileID string, req models.CreateCommentRequest) (*models.Comment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "comment is empty")
	}

	file, err := s.Get(ctx, actor, fileID)
	if err != nil {
		return nil, err
	}

	comment := &models.Comment{
		ID:           uuid.NewString(),
		FileUploadID: file.ID,
		UserID:       actor.ID,
		Content:      content,
	}
	var transitionID string
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.comments.Create(ctx, comment); err != nil {
			return err
		}
		var err error
		transitionID, err = s.audit.Append(ctx, AuditEntry{
			ActorID:      &actor.ID,
			Action:       models.AuditActionCommentAdded,
			ResourceType: models.ResourceComment,
			ResourceID:   &comment.ID,
			Details:      strPtr("file=" + file.ID),
			IP:           strPtr(actor.Meta.IP),
			UserAgent:    strPtr(actor.Meta.UserAgent),
		})
		return err
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add comment")
	}

	s.dispatcher.Dispatch(ctx, Commented{File: *file, ActorID: actor.ID, TransitionID: transitionID})
	return comment, nil
}

// ListComments returns comments oldest first.
func (s *FileService) ListComments(ctx context.Context, actor Actor, fileID string) ([]models.Comment, error) {
	if _, err := s.Get(ctx, actor, fileID); err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByFile(ctx, fileID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list comments")
	}
	return comments, nil
}

// LatestAnalysis returns the newest persisted scoring result.
func (s *FileService) LatestAnalysis(ctx context.Context, actor Actor, fileID string) (*models.AIResult, error) {
	if _, err := s.Get(ctx, actor, fileID); err != nil {
		return nil, err
	}
	result, err := s.results.LatestByFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no analysis result yet")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load analysis result")
	}
	return result, nil
}

// Rescore resets a finished upload to pending and queues it again. A
// processing upload is only reset once its claim has expired.
func (s *FileService) Rescore(ctx context.Context, actor Actor, fileID string) (*models.FileUpload, error) {
	file, err := s.Get(ctx, actor, fileID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if file.ProcessingStatus == models.ProcessingInProgress && !file.ClaimExpired(now, s.cfg.ClaimLease) {
		return nil, appErrors.ErrScoringInProgress
	}
	if file.ProcessingStatus != models.ProcessingPending {
		err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
			reset, err := s.files.ResetForRescore(ctx, file.ID, s.cfg.ClaimLease, now)
			if err != nil {
				return err
			}
			if !reset {
				return appErrors.ErrScoringInProgress
			}
			_, err = s.audit.Append(ctx, AuditEntry{
				ActorID:      &actor.ID,
				Action:       models.AuditActionRescore,
				ResourceType: models.ResourceFile,
				ResourceID:   &file.ID,
				IP:           strPtr(actor.Meta.IP),
				UserAgent:    strPtr(actor.Meta.UserAgent),
			})
			return err
		})
		if err != nil {
			if appErrors.HasCode(err, appErrors.ErrScoringInProgress.Code) {
				return nil, err
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset file")
		}
		file.ProcessingStatus = models.ProcessingPending
		file.ProcessingError = nil
	}

	s.queueScoring(ctx, file.ID)
	return file, nil
}

// queueScoring publishes best effort: a file left pending is picked up by a later rescore.
func (s *FileService) queueScoring(ctx context.Context, fileID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishScoring(ctx, fileID); err != nil {
		s.logger.Error("failed to queue scoring job", zap.String("file_id", fileID), zap.Error(err))
	}
}

func normaliseMIME(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(mediaType)
}
