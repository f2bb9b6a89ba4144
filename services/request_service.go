package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"receiptmanager/database"
	"receiptmanager/models"
	"receiptmanager/utils"
)

// Actor is the authenticated caller of a workflow operation.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) Privileged() bool {
	return models.IsPrivilegedRole(a.Role)
}

// SystemActor applies requests approved outside the API.
var SystemActor = Actor{UserID: "system", Role: models.RoleAdmin}

// RequestService routes destructive operations of non-privileged users
// through pending requests; privileged users act directly.
type RequestService struct {
	meta     database.MetadataStore
	files    *FileService
	bulk     *BulkService
	notifier Notifier
}

func NewRequestService(meta database.MetadataStore, files *FileService, bulk *BulkService, notifier Notifier) *RequestService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &RequestService{meta: meta, files: files, bulk: bulk, notifier: notifier}
}

// RequestDelete deletes a file (fileID) or a folder (folderPath). For a
// non-privileged actor it only records a request, which is returned;
// otherwise the delete runs immediately and the request is nil.
func (s *RequestService) RequestDelete(ctx context.Context, actor Actor, fileID, folderPath string) (*models.PendingRequest, error) {
	if (fileID == "") == (folderPath == "") {
		return nil, fmt.Errorf("exactly one of file id or folder path is required: %w", ErrInvalidInput)
	}

	if actor.Privileged() {
		if fileID != "" {
			return nil, s.files.DeleteFile(ctx, fileID)
		}
		_, err := s.bulk.Delete(ctx, Selection{Folders: []string{folderPath}})
		return nil, err
	}

	req := &models.PendingRequest{
		Type:        models.RequestTypeDelete,
		RequestedBy: actor.UserID,
	}
	if fileID != "" {
		entry, err := s.files.GetFile(ctx, fileID)
		if err != nil {
			return nil, err
		}
		req.TargetFileID = fileID
		req.TargetName = entry.Name
	} else {
		req.TargetFolderPath = utils.NormalizePath(folderPath)
		req.TargetName = utils.FolderName(req.TargetFolderPath)
		if req.TargetFolderPath == utils.RootPath {
			return nil, fmt.Errorf("cannot delete the root folder: %w", ErrInvalidDestination)
		}
	}
	return s.create(ctx, req)
}

// RequestRename renames a file. Privileged actors rename the object key
// itself; an approved request changes only the display name.
func (s *RequestService) RequestRename(ctx context.Context, actor Actor, fileID, newName string) (*models.PendingRequest, error) {
	if err := ValidateName(newName); err != nil {
		return nil, err
	}

	if actor.Privileged() {
		_, err := s.files.RenameFile(ctx, fileID, newName)
		return nil, err
	}

	entry, err := s.files.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, &models.PendingRequest{
		Type:         models.RequestTypeRename,
		TargetFileID: fileID,
		TargetName:   entry.Name,
		NewName:      newName,
		RequestedBy:  actor.UserID,
	})
}

func (s *RequestService) RequestRoleUpgrade(ctx context.Context, actor Actor, role string) (*models.PendingRequest, error) {
	switch role {
	case models.RoleAdmin, models.RoleEditor:
	default:
		return nil, fmt.Errorf("unknown role %q: %w", role, ErrInvalidInput)
	}
	if role == actor.Role {
		return nil, fmt.Errorf("already has role %s: %w", role, ErrInvalidInput)
	}
	return s.create(ctx, &models.PendingRequest{
		Type:          models.RequestTypeRoleUpgrade,
		RequestedRole: role,
		RequestedBy:   actor.UserID,
	})
}

func (s *RequestService) create(ctx context.Context, req *models.PendingRequest) (*models.PendingRequest, error) {
	req.RequestedAt = time.Now()
	req.Status = models.RequestStatusPending

	id, err := s.meta.CreateDocument(ctx, database.CollectionRequests, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.ID = id
	requestTransitionsTotal.WithLabelValues(string(req.Type), string(req.Status)).Inc()
	s.notifier.Success(fmt.Sprintf("Your %s request was sent for approval", req.Type))
	return req, nil
}

func (s *RequestService) GetRequest(ctx context.Context, id string) (*models.PendingRequest, error) {
	doc, err := s.meta.GetDocument(ctx, database.CollectionRequests, id)
	if err != nil {
		return nil, mapDocErr(err)
	}
	return decodeRequest(*doc)
}

// ListRequests returns requests newest first, optionally filtered by status.
func (s *RequestService) ListRequests(ctx context.Context, status models.RequestStatus) ([]models.PendingRequest, error) {
	var filters []database.FieldFilter
	if status != "" {
		filters = append(filters, database.FieldFilter{Field: "status", Value: string(status)})
	}
	docs, err := s.meta.QueryEquals(ctx, database.CollectionRequests, filters, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	requests := make([]models.PendingRequest, 0, len(docs))
	for _, doc := range docs {
		req, err := decodeRequest(doc)
		if err != nil {
			utils.LogWarningf("Skipping unreadable request %s: %v", doc.ID, err)
			continue
		}
		requests = append(requests, *req)
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].RequestedAt.After(requests[j].RequestedAt)
	})
	return requests, nil
}

func (s *RequestService) ListPending(ctx context.Context) ([]models.PendingRequest, error) {
	return s.ListRequests(ctx, models.RequestStatusPending)
}

// Approve executes the request and marks it approved. Approving an already
// approved request is a no-op. A failed execution leaves the request in
// the error state with the failure as admin response.
func (s *RequestService) Approve(ctx context.Context, actor Actor, id string) (*models.PendingRequest, error) {
	if !actor.Privileged() {
		return nil, ErrPermissionDenied
	}
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case models.RequestStatusApproved:
		return req, nil
	case models.RequestStatusPending:
	default:
		return nil, fmt.Errorf("request %s is %s: %w", id, req.Status, ErrRequestClosed)
	}

	return s.apply(ctx, actor, req)
}

// ApplyApproved runs a request whose status was set to approved without
// going through Approve. Already processed requests are left alone.
func (s *RequestService) ApplyApproved(ctx context.Context, req *models.PendingRequest) error {
	if req.Status != models.RequestStatusApproved || req.ProcessedAt != nil {
		return nil
	}
	_, err := s.apply(ctx, SystemActor, req)
	return err
}

func (s *RequestService) apply(ctx context.Context, actor Actor, req *models.PendingRequest) (*models.PendingRequest, error) {
	execErr := s.execute(ctx, req)

	now := time.Now()
	req.ProcessedBy = actor.UserID
	req.ProcessedAt = &now
	req.Status = models.RequestStatusApproved
	if execErr != nil {
		req.Status = models.RequestStatusError
		req.AdminResponse = execErr.Error()
	}

	fields := map[string]interface{}{
		"status":      string(req.Status),
		"processedBy": req.ProcessedBy,
		"processedAt": now,
	}
	if execErr != nil {
		fields["adminResponse"] = req.AdminResponse
	}
	if err := s.meta.UpdateDocument(ctx, database.CollectionRequests, req.ID, fields); err != nil {
		return nil, fmt.Errorf("failed to record request %s: %w", req.ID, mapDocErr(err))
	}
	requestTransitionsTotal.WithLabelValues(string(req.Type), string(req.Status)).Inc()

	if execErr != nil {
		s.notifier.Error(fmt.Sprintf("Request %s failed: %v", req.ID, execErr))
		return req, fmt.Errorf("request %s failed: %w", req.ID, execErr)
	}
	s.notifier.Success(fmt.Sprintf("Approved %s request for %s", req.Type, describeTarget(req)))
	return req, nil
}

func (s *RequestService) execute(ctx context.Context, req *models.PendingRequest) error {
	switch req.Type {
	case models.RequestTypeDelete:
		if req.TargetFileID != "" {
			err := s.files.DeleteFile(ctx, req.TargetFileID)
			// Already gone counts as done.
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if req.TargetFolderPath != "" {
			_, err := s.bulk.Delete(ctx, Selection{Folders: []string{req.TargetFolderPath}})
			return err
		}
		return fmt.Errorf("delete request without target: %w", ErrInvalidInput)

	case models.RequestTypeRename:
		return s.files.RenameDisplayName(ctx, req.TargetFileID, req.NewName)

	case models.RequestTypeRoleUpgrade:
		return s.meta.SetDocument(ctx, database.CollectionUsers, req.RequestedBy, map[string]interface{}{
			"role":      req.RequestedRole,
			"updatedAt": time.Now(),
		}, true)
	}
	return fmt.Errorf("unknown request type %q: %w", req.Type, ErrInvalidInput)
}

// Reject closes a pending request without side effects.
func (s *RequestService) Reject(ctx context.Context, actor Actor, id, reason string) (*models.PendingRequest, error) {
	if !actor.Privileged() {
		return nil, ErrPermissionDenied
	}
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status == models.RequestStatusRejected {
		return req, nil
	}
	if req.Status != models.RequestStatusPending {
		return nil, fmt.Errorf("request %s is %s: %w", id, req.Status, ErrRequestClosed)
	}

	now := time.Now()
	fields := map[string]interface{}{
		"status":      string(models.RequestStatusRejected),
		"processedBy": actor.UserID,
		"processedAt": now,
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		fields["adminResponse"] = reason
	}
	if err := s.meta.UpdateDocument(ctx, database.CollectionRequests, id, fields); err != nil {
		return nil, mapDocErr(err)
	}

	req.Status = models.RequestStatusRejected
	req.AdminResponse = reason
	req.ProcessedBy = actor.UserID
	req.ProcessedAt = &now
	requestTransitionsTotal.WithLabelValues(string(req.Type), string(req.Status)).Inc()
	s.notifier.Success(fmt.Sprintf("Rejected %s request for %s", req.Type, describeTarget(req)))
	return req, nil
}

func describeTarget(req *models.PendingRequest) string {
	switch {
	case req.Type == models.RequestTypeRoleUpgrade:
		return req.RequestedBy
	case req.TargetName != "":
		return req.TargetName
	case req.TargetFolderPath != "":
		return req.TargetFolderPath
	}
	return req.TargetFileID
}

func decodeRequest(doc database.Document) (*models.PendingRequest, error) {
	var req models.PendingRequest
	if err := database.Decode(doc.Data, &req); err != nil {
		return nil, err
	}
	req.ID = doc.ID
	return &req, nil
}

// DecodeRequest is used by the request listener on raw change documents.
func DecodeRequest(doc database.Document) (*models.PendingRequest, error) {
	return decodeRequest(doc)
}
