package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"receiptmanager/database"
	"receiptmanager/models"
	"receiptmanager/utils"
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// LabelService keeps folder labels (shared) and favorite folders (per user).
// Both are keyed by the encoded folder path.
type LabelService struct {
	meta database.MetadataStore
}

func NewLabelService(meta database.MetadataStore) *LabelService {
	return &LabelService{meta: meta}
}

func (s *LabelService) GetLabel(ctx context.Context, folder string) (*models.FolderLabel, error) {
	folder = utils.NormalizePath(folder)
	doc, err := s.meta.GetDocument(ctx, database.CollectionFolderLabels, utils.EncodePathKey(folder))
	if err != nil {
		return nil, mapDocErr(err)
	}

	var label models.FolderLabel
	if err := database.Decode(doc.Data, &label); err != nil {
		return nil, err
	}
	return &label, nil
}

// SetLabel replaces the folder's label. Tags are trimmed and deduplicated.
func (s *LabelService) SetLabel(ctx context.Context, folder string, tags []string, color, updatedBy string) (*models.FolderLabel, error) {
	if color != "" && !colorPattern.MatchString(color) {
		return nil, fmt.Errorf("invalid color %q: %w", color, ErrInvalidInput)
	}

	folder = utils.NormalizePath(folder)
	label := &models.FolderLabel{
		Path:      folder,
		Tags:      cleanTags(tags),
		Color:     color,
		UpdatedBy: updatedBy,
		UpdatedAt: time.Now(),
	}
	if err := s.meta.SetDocument(ctx, database.CollectionFolderLabels, utils.EncodePathKey(folder), label, false); err != nil {
		return nil, fmt.Errorf("failed to save label for %s: %w", folder, err)
	}
	return label, nil
}

func (s *LabelService) DeleteLabel(ctx context.Context, folder string) error {
	return mapDocErr(s.meta.DeleteDocument(ctx, database.CollectionFolderLabels, utils.EncodePathKey(utils.NormalizePath(folder))))
}

// ToggleFavorite flips the folder in the user's favorites and reports
// whether it is now a favorite.
func (s *LabelService) ToggleFavorite(ctx context.Context, userID, folder string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("user id is required: %w", ErrInvalidInput)
	}
	folder = utils.NormalizePath(folder)
	id := favoriteID(userID, folder)

	_, err := s.meta.GetDocument(ctx, database.CollectionFavorites, id)
	switch {
	case err == nil:
		if err := s.meta.DeleteDocument(ctx, database.CollectionFavorites, id); err != nil {
			return false, fmt.Errorf("failed to remove favorite: %w", err)
		}
		return false, nil
	case errors.Is(err, database.ErrDocumentNotFound):
		fav := models.Favorite{UserID: userID, Path: folder, CreatedAt: time.Now()}
		if err := s.meta.SetDocument(ctx, database.CollectionFavorites, id, fav, false); err != nil {
			return false, fmt.Errorf("failed to add favorite: %w", err)
		}
		return true, nil
	default:
		return false, err
	}
}

func (s *LabelService) ListFavorites(ctx context.Context, userID string) ([]models.Favorite, error) {
	docs, err := s.meta.QueryEquals(ctx, database.CollectionFavorites, []database.FieldFilter{{Field: "userId", Value: userID}}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}

	favorites := make([]models.Favorite, 0, len(docs))
	for _, doc := range docs {
		var fav models.Favorite
		if err := database.Decode(doc.Data, &fav); err != nil {
			utils.LogWarningf("Skipping unreadable favorite %s: %v", doc.ID, err)
			continue
		}
		fav.ID = doc.ID
		favorites = append(favorites, fav)
	}
	sort.SliceStable(favorites, func(i, j int) bool { return favorites[i].Path < favorites[j].Path })
	return favorites, nil
}

func favoriteID(userID, folder string) string {
	return userID + "_" + utils.EncodePathKey(folder)
}

func cleanTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}
