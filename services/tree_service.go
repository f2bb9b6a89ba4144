package services

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"receiptmanager/storage"
	"receiptmanager/utils"
)

// TreeNode is one folder of the cached hierarchy. A node is materialized
// once a listing of its prefix has been applied; its children start out
// unmaterialized.
type TreeNode struct {
	Path              string
	Materialized      bool
	Children          map[string]*TreeNode
	order             []string
	Files             []string
	DirectFileCount   int
	DirectFolderCount int
}

// FolderView is a read-only copy of a TreeNode, display-sorted.
type FolderView struct {
	Path              string       `json:"path"`
	Name              string       `json:"name"`
	Materialized      bool         `json:"materialized"`
	DirectFileCount   int          `json:"direct_file_count"`
	DirectFolderCount int          `json:"direct_folder_count"`
	Folders           []FolderView `json:"folders,omitempty"`
	Files             []string     `json:"files,omitempty"`
}

// TreeService is the lazily populated folder tree over the object store.
// Listing I/O runs outside the lock so one slow prefix never blocks reads
// of the rest of the tree.
type TreeService struct {
	store        storage.ObjectStore
	includeFiles bool

	mu   sync.Mutex
	root *TreeNode
}

func NewTreeService(store storage.ObjectStore, includeFiles bool) *TreeService {
	return &TreeService{
		store:        store,
		includeFiles: includeFiles,
		root:         &TreeNode{Path: utils.RootPath},
	}
}

// LoadChildren performs one listing of folderPath and applies it to the
// node. Children already known keep their own subtree.
func (s *TreeService) LoadChildren(ctx context.Context, folderPath string) (*FolderView, error) {
	folderPath = utils.NormalizePath(folderPath)

	listing, err := s.store.ListChildren(ctx, utils.ToObjectKeyPrefix(folderPath))
	if err != nil {
		treeListingsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list %s: %w", folderPath, err)
	}
	treeListingsTotal.WithLabelValues("ok").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.nodeLocked(folderPath)
	s.applyListingLocked(node, listing)
	view := s.viewLocked(node, 1)
	return &view, nil
}

// Expand materializes every unmaterialized ancestor of folderPath from the
// root down, then folderPath itself.
func (s *TreeService) Expand(ctx context.Context, folderPath string) (*FolderView, error) {
	folderPath = utils.NormalizePath(folderPath)

	for _, p := range ancestry(folderPath) {
		s.mu.Lock()
		materialized := s.nodeLocked(p).Materialized
		s.mu.Unlock()
		if materialized {
			continue
		}
		if _, err := s.LoadChildren(ctx, p); err != nil {
			return nil, err
		}
	}
	return s.View(folderPath), nil
}

// Refresh discards what is cached below folderPath and lists it again.
func (s *TreeService) Refresh(ctx context.Context, folderPath string) (*FolderView, error) {
	folderPath = utils.NormalizePath(folderPath)

	s.mu.Lock()
	node := s.nodeLocked(folderPath)
	node.Materialized = false
	node.Children = nil
	node.order = nil
	node.Files = nil
	node.DirectFileCount = 0
	node.DirectFolderCount = 0
	s.mu.Unlock()

	return s.LoadChildren(ctx, folderPath)
}

// Invalidate marks folders stale without any I/O. The next Expand lists
// them again.
func (s *TreeService) Invalidate(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range paths {
		if node := s.findLocked(utils.NormalizePath(p)); node != nil {
			node.Materialized = false
		}
	}
}

// View returns the cached state of folderPath without listing.
func (s *TreeService) View(folderPath string) *FolderView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.viewLocked(s.nodeLocked(utils.NormalizePath(folderPath)), 1)
	return &view
}

// Snapshot returns the whole cached tree as far as it is materialized.
func (s *TreeService) Snapshot() *FolderView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.viewLocked(s.root, -1)
	return &view
}

func (s *TreeService) applyListingLocked(node *TreeNode, listing *storage.Listing) {
	children := make(map[string]*TreeNode, len(listing.Prefixes))
	order := make([]string, 0, len(listing.Prefixes))
	for _, prefix := range listing.Prefixes {
		childPath := utils.FromObjectKeyPrefix(prefix)
		name := utils.FolderName(childPath)
		if name == "" {
			continue
		}
		if existing, ok := node.Children[name]; ok {
			children[name] = existing
		} else {
			children[name] = &TreeNode{Path: childPath}
		}
		order = append(order, name)
	}

	var files []string
	for _, key := range listing.Keys {
		if storage.IsPlaceholder(key) {
			continue
		}
		files = append(files, path.Base(key))
	}

	node.Children = children
	node.order = order
	node.DirectFolderCount = len(order)
	node.DirectFileCount = len(files)
	if s.includeFiles {
		node.Files = files
	}
	node.Materialized = true
}

// nodeLocked returns the node for a normalized path, creating unmaterialized
// nodes along the way.
func (s *TreeService) nodeLocked(folderPath string) *TreeNode {
	node := s.root
	for _, segment := range segments(folderPath) {
		if node.Children == nil {
			node.Children = make(map[string]*TreeNode)
		}
		child, ok := node.Children[segment]
		if !ok {
			child = &TreeNode{Path: utils.JoinFolder(node.Path, segment)}
			node.Children[segment] = child
		}
		node = child
	}
	return node
}

func (s *TreeService) findLocked(folderPath string) *TreeNode {
	node := s.root
	for _, segment := range segments(folderPath) {
		child, ok := node.Children[segment]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

// viewLocked copies node down to depth levels of children (-1 for all).
func (s *TreeService) viewLocked(node *TreeNode, depth int) FolderView {
	view := FolderView{
		Path:              node.Path,
		Name:              utils.FolderName(node.Path),
		Materialized:      node.Materialized,
		DirectFileCount:   node.DirectFileCount,
		DirectFolderCount: node.DirectFolderCount,
	}
	if node.Files != nil {
		view.Files = SortNames(node.Files)
	}
	if depth == 0 {
		return view
	}

	names := node.order
	if len(names) == 0 {
		for name := range node.Children {
			names = append(names, name)
		}
	}
	for _, name := range SortNames(names) {
		child, ok := node.Children[name]
		if !ok {
			continue
		}
		next := depth - 1
		if depth < 0 {
			next = -1
		}
		view.Folders = append(view.Folders, s.viewLocked(child, next))
	}
	return view
}

func segments(folderPath string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(folderPath, utils.RootPath), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// ancestry lists the root, every intermediate folder and folderPath itself.
func ancestry(folderPath string) []string {
	paths := []string{utils.RootPath}
	current := utils.RootPath
	for _, segment := range segments(folderPath) {
		current = utils.JoinFolder(current, segment)
		paths = append(paths, current)
	}
	return paths
}
