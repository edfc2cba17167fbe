package git

import (
	"context"
	"fmt"
	"path"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/reposage/reposage/internal/core/ingest"
)

// DiffRange lists the file changes between two commits as a sync plan.
// Renames show up as a delete of the old path plus a modify of the new
// path, and submodule pointer moves are expanded into the per-file
// changes inside the submodule.
func (co *Checkout) DiffRange(ctx context.Context, fromRev, toRev string) ([]ingest.Change, error) {
	fromTree, err := co.treeAt(fromRev)
	if err != nil {
		return nil, err
	}
	toTree, err := co.treeAt(toRev)
	if err != nil {
		return nil, err
	}

	raw, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", fromRev, toRev, err)
	}

	var changes []ingest.Change
	for _, ch := range raw {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("failed to classify change: %w", err)
		}

		if isSubmoduleChange(ch) {
			expanded, err := co.expandSubmodule(ctx, ch, action)
			if err != nil {
				return nil, err
			}
			changes = append(changes, expanded...)
			continue
		}

		switch action {
		case merkletrie.Insert:
			changes = append(changes, ingest.Change{Op: ingest.OpAdd, Path: ch.To.Name})
		case merkletrie.Delete:
			changes = append(changes, ingest.Change{Op: ingest.OpDelete, Path: ch.From.Name})
		case merkletrie.Modify:
			if ch.From.Name != ch.To.Name {
				changes = append(changes, ingest.Change{Op: ingest.OpDelete, Path: ch.From.Name})
			}
			changes = append(changes, ingest.Change{Op: ingest.OpModify, Path: ch.To.Name})
		}
	}

	return changes, nil
}

func (co *Checkout) treeAt(rev string) (*object.Tree, error) {
	hash, err := co.Resolve(rev)
	if err != nil {
		return nil, err
	}

	commit, err := co.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", rev, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree for %s: %w", rev, err)
	}

	return tree, nil
}

func isSubmoduleChange(ch *object.Change) bool {
	return ch.From.TreeEntry.Mode == filemode.Submodule ||
		ch.To.TreeEntry.Mode == filemode.Submodule
}

// expandSubmodule turns a submodule pointer change into per-file
// changes. An added submodule adds every file at the new pointer, a
// removed one deletes the old file set, and a moved pointer diffs the
// submodule's own commit range.
func (co *Checkout) expandSubmodule(ctx context.Context, ch *object.Change, action merkletrie.Action) ([]ingest.Change, error) {
	switch action {
	case merkletrie.Insert:
		return co.submoduleFileOps(ch.To.Name, ch.To.TreeEntry.Hash, ingest.OpAdd)

	case merkletrie.Delete:
		ops, err := co.submoduleFileOps(ch.From.Name, ch.From.TreeEntry.Hash, ingest.OpDelete)
		if err != nil {
			// The submodule repository is gone from the worktree at the
			// new commit, so fall back to a prefix delete.
			return []ingest.Change{{Op: ingest.OpDelete, Path: ch.From.Name, PathIsPrefix: true}}, nil
		}
		return ops, nil

	case merkletrie.Modify:
		sub, err := gogit.PlainOpen(co.submodulePath(ch.To.Name))
		if err != nil {
			return co.resyncSubmodule(ch)
		}
		subCo := &Checkout{repo: sub, dir: co.submodulePath(ch.To.Name)}
		subChanges, err := subCo.DiffRange(ctx, ch.From.TreeEntry.Hash.String(), ch.To.TreeEntry.Hash.String())
		if err != nil {
			return co.resyncSubmodule(ch)
		}
		prefixed := make([]ingest.Change, len(subChanges))
		for i, sc := range subChanges {
			prefixed[i] = ingest.Change{
				Op:           sc.Op,
				Path:         path.Join(ch.To.Name, sc.Path),
				PathIsPrefix: sc.PathIsPrefix,
			}
		}
		return prefixed, nil
	}

	return nil, nil
}

// resyncSubmodule is the coarse fallback when a submodule's history is
// unavailable: drop everything under the old path and re-add whatever
// is present at the new pointer.
func (co *Checkout) resyncSubmodule(ch *object.Change) ([]ingest.Change, error) {
	changes := []ingest.Change{{Op: ingest.OpDelete, Path: ch.From.Name, PathIsPrefix: true}}
	adds, err := co.submoduleFileOps(ch.To.Name, ch.To.TreeEntry.Hash, ingest.OpAdd)
	if err != nil {
		return nil, err
	}
	return append(changes, adds...), nil
}

// submoduleFileOps lists the files of a submodule at a given commit and
// wraps each in op, with paths relative to the parent repository.
func (co *Checkout) submoduleFileOps(subPath string, commit plumbing.Hash, op ingest.ChangeOp) ([]ingest.Change, error) {
	sub, err := gogit.PlainOpen(co.submodulePath(subPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open submodule %s: %w", subPath, err)
	}

	c, err := sub.CommitObject(commit)
	if err != nil {
		return nil, fmt.Errorf("failed to get submodule commit %s: %w", commit, err)
	}

	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get submodule tree: %w", err)
	}

	var changes []ingest.Change
	err = tree.Files().ForEach(func(f *object.File) error {
		changes = append(changes, ingest.Change{Op: op, Path: path.Join(subPath, f.Name)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list submodule files: %w", err)
	}

	return changes, nil
}
