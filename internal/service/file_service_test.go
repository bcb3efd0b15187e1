package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	appErrors "github.com/noah-isme/esg-compliance-api/pkg/errors"
	"github.com/noah-isme/esg-compliance-api/pkg/storage"
)

type fileStoreStub struct {
	files      map[string]*models.FileUpload
	created    []*models.FileUpload
	lastFilter models.FileFilter
	createErr  error
	statusCAS  bool
	resets     []string
}

func newFileStoreStub(files ...models.FileUpload) *fileStoreStub {
	s := &fileStoreStub{files: map[string]*models.FileUpload{}, statusCAS: true}
	for i := range files {
		f := files[i]
		s.files[f.ID] = &f
	}
	return s
}

func (s *fileStoreStub) Create(ctx context.Context, file *models.FileUpload) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, file)
	copy := *file
	s.files[file.ID] = &copy
	return nil
}

func (s *fileStoreStub) FindByID(ctx context.Context, id string) (*models.FileUpload, error) {
	f, ok := s.files[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *f
	return &copy, nil
}

func (s *fileStoreStub) List(ctx context.Context, filter models.FileFilter) ([]models.FileUpload, int, error) {
	s.lastFilter = filter
	return nil, 0, nil
}

func (s *fileStoreStub) UpdateStatus(ctx context.Context, id string, from, to models.FileStatus, now time.Time) (bool, error) {
	f, ok := s.files[id]
	if !ok || !s.statusCAS || f.Status != from {
		return false, nil
	}
	f.Status = to
	return true, nil
}

func (s *fileStoreStub) ResetForRescore(ctx context.Context, id string, lease time.Duration, now time.Time) (bool, error) {
	f, ok := s.files[id]
	if !ok {
		return false, nil
	}
	switch f.ProcessingStatus {
	case models.ProcessingCompleted, models.ProcessingFailed:
	case models.ProcessingInProgress:
		if !f.ClaimExpired(now, lease) {
			return false, nil
		}
	default:
		return false, nil
	}
	f.ProcessingStatus = models.ProcessingPending
	f.ClaimedAt = nil
	s.resets = append(s.resets, id)
	return true, nil
}

type commentStoreStub struct {
	created []*models.Comment
}

func (s *commentStoreStub) Create(ctx context.Context, comment *models.Comment) error {
	s.created = append(s.created, comment)
	return nil
}

func (s *commentStoreStub) ListByFile(ctx context.Context, fileID string) ([]models.Comment, error) {
	var out []models.Comment
	for _, c := range s.created {
		if c.FileUploadID == fileID {
			out = append(out, *c)
		}
	}
	return out, nil
}

type analysisReaderStub struct {
	result *models.AIResult
}

func (s analysisReaderStub) LatestByFile(ctx context.Context, fileID string) (*models.AIResult, error) {
	if s.result == nil {
		return nil, sql.ErrNoRows
	}
	return s.result, nil
}

type checklistLookupStub map[string]*models.Checklist

func (s checklistLookupStub) FindByID(ctx context.Context, id string) (*models.Checklist, error) {
	if c, ok := s[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

type dispatcherSpy struct {
	events []DomainEvent
}

func (d *dispatcherSpy) Dispatch(ctx context.Context, event DomainEvent) bool {
	d.events = append(d.events, event)
	return true
}

type publisherSpy struct {
	published []string
	err       error
}

func (p *publisherSpy) PublishScoring(ctx context.Context, fileID string) error {
	p.published = append(p.published, fileID)
	return p.err
}

type memoryObjectStore struct {
	objects map[string][]byte
	deleted []string
}

func (m *memoryObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = data
	return nil
}

func (m *memoryObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjectStore) Delete(ctx context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	delete(m.objects, key)
	return nil
}

type fileFixture struct {
	svc        *FileService
	files      *fileStoreStub
	comments   *commentStoreStub
	audit      *auditSpy
	dispatcher *dispatcherSpy
	publisher  *publisherSpy
	store      *memoryObjectStore
}

var (
	ownerActor    = Actor{ID: "owner", Role: models.RoleUser}
	strangerActor = Actor{ID: "stranger", Role: models.RoleUser}
	reviewerActor = Actor{ID: "reviewer", Role: models.RoleReviewer, Meta: models.RequestMeta{IP: "10.1.1.1"}}
)

func newFileFixture(files ...models.FileUpload) *fileFixture {
	fx := &fileFixture{
		files:      newFileStoreStub(files...),
		comments:   &commentStoreStub{},
		audit:      &auditSpy{},
		dispatcher: &dispatcherSpy{},
		publisher:  &publisherSpy{},
		store:      &memoryObjectStore{},
	}
	fx.svc = NewFileService(FileServiceDeps{
		Files:      fx.files,
		Comments:   fx.comments,
		Results:    analysisReaderStub{result: &models.AIResult{ID: "r1", FileUploadID: "f1", OverallScore: 0.8}},
		Checklists: checklistLookupStub{"c1": {ID: "c1", IsActive: true}, "c2": {ID: "c2"}},
		Audit:      fx.audit,
		Dispatcher: fx.dispatcher,
		Publisher:  fx.publisher,
		Store:      fx.store,
		Signer:     storage.NewSignedURLSigner("test-secret", time.Minute),
	}, validator.New(), zap.NewNop(), FileConfig{
		MaxFileSizeBytes: 1024,
		AllowedMIMEs:     []string{"application/pdf", "text/plain"},
	})
	return fx
}

func scoredFile(status models.FileStatus, processing models.ProcessingStatus) models.FileUpload {
	return models.FileUpload{ID: "f1", UserID: "owner", ChecklistID: "c1", OriginalFilename: "report.pdf", StorageKey: "c1/f1.pdf", Status: status, ProcessingStatus: processing}
}

func TestFileServiceUpload(t *testing.T) {
	fx := newFileFixture()
	body := "sustainability report"

	file, err := fx.svc.Upload(context.Background(), ownerActor, UploadInput{
		ChecklistID: "c1",
		Filename:    "../Report.PDF",
		ContentType: "application/pdf; charset=binary",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	})
	require.NoError(t, err)
	assert.Equal(t, "owner", file.UserID)
	assert.Equal(t, "Report.PDF", file.OriginalFilename)
	assert.True(t, strings.HasSuffix(file.StorageKey, ".pdf"))
	assert.Equal(t, "application/pdf", file.MimeType)
	assert.Equal(t, models.ProcessingPending, file.ProcessingStatus)
	assert.Equal(t, []byte(body), fx.store.objects[file.StorageKey])
	assert.Equal(t, []string{models.AuditActionFileUpload}, fx.audit.actions())
	assert.Equal(t, []string{file.ID}, fx.publisher.published)
}

func TestFileServiceUploadRejections(t *testing.T) {
	tests := []struct {
		name string
		in   UploadInput
		code string
	}{
		{"too large", UploadInput{ChecklistID: "c1", ContentType: "application/pdf", Size: 2048}, appErrors.ErrPayloadTooLarge.Code},
		{"bad mime", UploadInput{ChecklistID: "c1", ContentType: "image/png", Size: 10}, appErrors.ErrUnsupportedMedia.Code},
		{"empty", UploadInput{ChecklistID: "c1", ContentType: "application/pdf"}, appErrors.ErrValidation.Code},
		{"unknown checklist", UploadInput{ChecklistID: "nope", ContentType: "text/plain", Size: 10}, appErrors.ErrNotFound.Code},
		{"inactive checklist", UploadInput{ChecklistID: "c2", ContentType: "text/plain", Size: 10}, appErrors.ErrValidation.Code},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFileFixture()
			tc.in.Body = strings.NewReader("0123456789")
			_, err := fx.svc.Upload(context.Background(), ownerActor, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
			assert.Empty(t, fx.store.objects)
			assert.Empty(t, fx.publisher.published)
		})
	}
}

func TestFileServiceUploadRemovesObjectWhenMetadataFails(t *testing.T) {
	fx := newFileFixture()
	fx.files.createErr = errors.New("insert failed")

	_, err := fx.svc.Upload(context.Background(), ownerActor, UploadInput{ChecklistID: "c1", Filename: "a.txt", ContentType: "text/plain", Size: 3, Body: strings.NewReader("abc")})
	require.Error(t, err)
	assert.Len(t, fx.store.deleted, 1)
	assert.Empty(t, fx.store.objects)
	assert.Empty(t, fx.publisher.published)
}

func TestFileServiceListScopesNonReviewers(t *testing.T) {
	fx := newFileFixture()

	_, _, err := fx.svc.List(context.Background(), ownerActor, models.FileFilter{OwnerID: "someone"})
	require.NoError(t, err)
	assert.Equal(t, "owner", fx.files.lastFilter.OwnerID)

	_, _, err = fx.svc.List(context.Background(), reviewerActor, models.FileFilter{ChecklistID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, fx.files.lastFilter.OwnerID)
}

func TestFileServiceGetAccess(t *testing.T) {
	fx := newFileFixture(scoredFile(models.FileStatusPending, models.ProcessingCompleted))

	_, err := fx.svc.Get(context.Background(), ownerActor, "f1")
	require.NoError(t, err)
	_, err = fx.svc.Get(context.Background(), reviewerActor, "f1")
	require.NoError(t, err)

	_, err = fx.svc.Get(context.Background(), strangerActor, "f1")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	_, err = fx.svc.Get(context.Background(), ownerActor, "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestFileServiceApproveNotifiesOwner(t *testing.T) {
	fx := newFileFixture(scoredFile(models.FileStatusPending, models.ProcessingCompleted))

	file, err := fx.svc.UpdateStatus(context.Background(), reviewerActor, "f1", models.UpdateFileStatusRequest{Status: models.FileStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusApproved, file.Status)
	assert.Equal(t, []string{models.AuditActionStatusChange}, fx.audit.actions())
	assert.Equal(t, "pending->approved", *fx.audit.entries[0].Details)

	require.Len(t, fx.dispatcher.events, 1)
	event, ok := fx.dispatcher.events[0].(StatusChanged)
	require.True(t, ok)
	assert.Equal(t, "reviewer", event.ActorID)
	assert.Equal(t, "audit-"+models.AuditActionStatusChange, event.TransitionID)
}

func TestFileServiceApproveRequiresCompletedProcessing(t *testing.T) {
	for _, ps := range []models.ProcessingStatus{models.ProcessingPending, models.ProcessingInProgress, models.ProcessingFailed} {
		fx := newFileFixture(scoredFile(models.FileStatusPending, ps))

		_, err := fx.svc.UpdateStatus(context.Background(), reviewerActor, "f1", models.UpdateFileStatusRequest{Status: models.FileStatusApproved})
		require.Error(t, err, ps)
		assert.Equal(t, appErrors.ErrScoringIncomplete.Code, appErrors.FromError(err).Code)
		assert.Empty(t, fx.audit.entries)
		assert.Empty(t, fx.dispatcher.events)
	}

	fx := newFileFixture(scoredFile(models.FileStatusPending, models.ProcessingFailed))
	_, err := fx.svc.UpdateStatus(context.Background(), reviewerActor, "f1", models.UpdateFileStatusRequest{Status: models.FileStatusRejected})
	require.NoError(t, err)
}

func TestFileServiceUnchangedStatusIsNoop(t *testing.T) {
	fx := newFileFixture(scoredFile(models.FileStatusRejected, models.ProcessingCompleted))

	file, err := fx.svc.UpdateStatus(context.Background(), reviewerActor, "f1", models.UpdateFileStatusRequest{Status: models.FileStatusRejected})
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusRejected, file.Status)
	assert.Empty(t, fx.audit.entries)
	assert.Empty(t, fx.dispatcher.events)
}

func TestFileServiceStatusConflictAndRBAC(t *testing.T) {
	fx := newFileFixture(scoredFile(models.FileStatusPending, models.ProcessingCompleted))
	fx.files.statusCAS = false

	_, err := fx.svc.UpdateStatus(context.Background(), reviewerActor, "f1", models.UpdateFileStatusRequest{Status: models.FileStatusRejected})
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.dispatcher.events)

	_, err = fx.svc.UpdateStatus(context.Background(), ownerActor, "f1", models.UpdateFileStatusRequest{Status: models.FileStatusRejected})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = fx.svc.UpdateStatus(context.Background(), reviewerActor, "f1", models.UpdateFileStatusRequest{Status: "archived"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestFileServiceAddComment(t *testing.T) {
	fx := newFileFixture(scoredFile(models.FileStatusPending, models.ProcessingCompleted))

	comment, err := fx.svc.AddComment(context.Background(), reviewerActor, "f1", models.CreateCommentRequest{Content: "  please add scope 3  "})
	require.NoError(t, err)
	assert.Equal(t, "please add scope 3", comment.Content)
	assert.Equal(t, []string{models.AuditActionCommentAdded}, fx.audit.actions())
	require.Len(t, fx.dispatcher.events, 1)
	assert.IsType(t, Commented{}, fx.dispatcher.events[0])

	comments, err := fx.svc.ListComments(context.Background(), ownerActor, "f1")
	require.NoError(t, err)
	assert.Len(t, comments, 1)

	_, err = fx.svc.AddComment(context.Background(), strangerActor, "f1", models.CreateCommentRequest{Content: "hi"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestFileServiceDownloadRoundTrip(t *testing.T) {
	fx := newFileFixture(scoredFile(models.FileStatusPending, models.ProcessingCompleted))
	fx.store.objects = map[string][]byte{"c1/f1.pdf": []byte("%PDF-1.4")}

	link, err := fx.svc.DownloadLink(context.Background(), ownerActor, "f1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link.URL, "/api/v1/files/download/"))

	token := strings.TrimPrefix(link.URL, "/api/v1/files/download/")
	file, rc, err := fx.svc.OpenDownload(context.Background(), token)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "f1", file.ID)
	assert.Equal(t, "%PDF-1.4", string(data))

	_, _, err = fx.svc.OpenDownload(context.Background(), token+"x")
	assert.Equal(t, appErrors.ErrDownloadLinkInvalid.Code, appErrors.FromError(err).Code)
}

func TestFileServiceRescore(t *testing.T) {
	fx := newFileFixture(scoredFile(models.FileStatusPending, models.ProcessingFailed))

	file, err := fx.svc.Rescore(context.Background(), reviewerActor, "f1")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingPending, file.ProcessingStatus)
	assert.Equal(t, []string{"f1"}, fx.files.resets)
	assert.Equal(t, []string{"f1"}, fx.publisher.published)
	assert.Equal(t, []string{models.AuditActionRescore}, fx.audit.actions())

	running := scoredFile(models.FileStatusPending, models.ProcessingInProgress)
	claimedAt := time.Now().UTC().Add(-time.Minute)
	running.ClaimedAt = &claimedAt
	fx = newFileFixture(running)
	_, err = fx.svc.Rescore(context.Background(), reviewerActor, "f1")
	assert.Equal(t, appErrors.ErrScoringInProgress.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.publisher.published)
}

func TestFileServiceRescoreResetsExpiredClaim(t *testing.T) {
	stuck := scoredFile(models.FileStatusPending, models.ProcessingInProgress)
	claimedAt := time.Now().UTC().Add(-2 * defaultClaimLease)
	stuck.ClaimedAt = &claimedAt
	fx := newFileFixture(stuck)

	file, err := fx.svc.Rescore(context.Background(), reviewerActor, "f1")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingPending, file.ProcessingStatus)
	assert.Equal(t, []string{"f1"}, fx.files.resets)
	assert.Equal(t, []string{"f1"}, fx.publisher.published)
	assert.Equal(t, []string{models.AuditActionRescore}, fx.audit.actions())
}

func TestFileServiceLatestAnalysis(t *testing.T) {
	fx := newFileFixture(scoredFile(models.FileStatusPending, models.ProcessingCompleted))

	result, err := fx.svc.LatestAnalysis(context.Background(), ownerActor, "f1")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, result.OverallScore, 1e-9)
}
