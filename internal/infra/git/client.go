// Package git wraps go-git with the operations the ingestion and sync
// paths need: cloning into scratch checkouts, resolving refs, and
// diffing commit ranges.
package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	giturls "github.com/whilp/git-urls"
)

// Client performs git operations against remote repositories.
type Client struct {
	sshKeyPath  string
	sshPassword string
}

// NewClient creates a Client. SSH auth is optional; without a key path
// only public repositories are reachable.
func NewClient(sshKeyPath, sshPassword string) *Client {
	return &Client{
		sshKeyPath:  sshKeyPath,
		sshPassword: sshPassword,
	}
}

// CommitInfo describes one commit.
type CommitInfo struct {
	Hash    string
	Date    time.Time
	Message string
	Author  string
}

// RepositoryFromURL derives the "owner/name" repository identity from a
// git URL in any of the usual forms (https, ssh, scp-like).
func RepositoryFromURL(gitURL string) (string, error) {
	u, err := giturls.Parse(gitURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse git URL: %w", err)
	}

	path := strings.TrimPrefix(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")
	if path == "" {
		return "", fmt.Errorf("git URL has no repository path: %s", gitURL)
	}

	return path, nil
}

// Checkout is a working copy of one repository pinned at a commit.
type Checkout struct {
	repo    *gogit.Repository
	dir     string
	head    plumbing.Hash
	ownsDir bool
}

// Clone clones url into a scratch directory, recursing into submodules,
// and checks out ref. The caller must Close the checkout to release the
// scratch directory.
func (c *Client) Clone(ctx context.Context, url, ref string) (*Checkout, error) {
	auth, err := c.getSSHAuth()
	if err != nil {
		return nil, fmt.Errorf("failed to setup SSH auth: %w", err)
	}

	dir, err := os.MkdirTemp("", "reposage-clone-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	repo, err := gogit.PlainCloneContext(ctx, dir, false, &gogit.CloneOptions{
		URL:               url,
		Auth:              auth,
		RecurseSubmodules: gogit.DefaultSubmoduleRecursionDepth,
		Tags:              gogit.AllTags,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	co := &Checkout{repo: repo, dir: dir, ownsDir: true}
	if err := co.checkout(ref); err != nil {
		co.Close()
		return nil, err
	}
	return co, nil
}

// Open wraps an existing local repository at dir and checks out ref.
// Close does not remove the directory.
func (c *Client) Open(dir, ref string) (*Checkout, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	co := &Checkout{repo: repo, dir: dir}
	if err := co.checkout(ref); err != nil {
		return nil, err
	}
	return co, nil
}

func (co *Checkout) checkout(ref string) error {
	hash, err := co.Resolve(ref)
	if err != nil {
		return err
	}

	worktree, err := co.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	err = worktree.Checkout(&gogit.CheckoutOptions{
		Hash:  hash,
		Force: true,
	})
	if err != nil {
		return fmt.Errorf("failed to checkout %s: %w", ref, err)
	}

	co.head = hash
	return nil
}

// Dir returns the working directory of the checkout.
func (co *Checkout) Dir() string {
	return co.dir
}

// Head returns the commit the checkout is pinned at.
func (co *Checkout) Head() string {
	return co.head.String()
}

// Close releases the scratch directory of a cloned checkout. It is a
// no-op for opened local repositories.
func (co *Checkout) Close() error {
	if !co.ownsDir {
		return nil
	}
	return os.RemoveAll(co.dir)
}

// HeadInfo returns commit details for the pinned commit.
func (co *Checkout) HeadInfo() (*CommitInfo, error) {
	commit, err := co.repo.CommitObject(co.head)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object: %w", err)
	}

	return &CommitInfo{
		Hash:    commit.Hash.String(),
		Date:    commit.Author.When,
		Message: commit.Message,
		Author:  commit.Author.Name,
	}, nil
}

// FileLastCommits returns the most recent commit touching each file
// reachable from the pinned commit.
func (co *Checkout) FileLastCommits(ctx context.Context) (map[string]*CommitInfo, error) {
	commitIter, err := co.repo.Log(&gogit.LogOptions{From: co.head})
	if err != nil {
		return nil, fmt.Errorf("failed to get commit log: %w", err)
	}
	defer commitIter.Close()

	last := make(map[string]*CommitInfo)
	err = commitIter.ForEach(func(commit *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		tree, err := commit.Tree()
		if err != nil {
			return fmt.Errorf("failed to get tree for commit %s: %w", commit.Hash, err)
		}

		return tree.Files().ForEach(func(f *object.File) error {
			if _, exists := last[f.Name]; !exists {
				last[f.Name] = &CommitInfo{
					Hash:    commit.Hash.String(),
					Date:    commit.Author.When,
					Message: commit.Message,
					Author:  commit.Author.Name,
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate commits: %w", err)
	}

	return last, nil
}

// Resolve turns a ref name (branch, remote branch, tag, HEAD, or raw
// hash) into a commit hash.
func (co *Checkout) Resolve(ref string) (plumbing.Hash, error) {
	branchRef, err := co.repo.Reference(plumbing.NewBranchReferenceName(ref), true)
	if err == nil {
		return branchRef.Hash(), nil
	}

	remoteRef, err := co.repo.Reference(plumbing.NewRemoteReferenceName("origin", ref), true)
	if err == nil {
		return remoteRef.Hash(), nil
	}

	tagRef, err := co.repo.Reference(plumbing.NewTagReferenceName(ref), true)
	if err == nil {
		return tagRef.Hash(), nil
	}

	if ref == "HEAD" {
		headRef, err := co.repo.Head()
		if err == nil {
			return headRef.Hash(), nil
		}
	}

	hash := plumbing.NewHash(ref)
	if !hash.IsZero() {
		if _, err := co.repo.CommitObject(hash); err == nil {
			return hash, nil
		}
	}

	return plumbing.ZeroHash, fmt.Errorf("failed to resolve ref: %s", ref)
}

func (c *Client) getSSHAuth() (*ssh.PublicKeys, error) {
	if c.sshKeyPath == "" {
		return nil, nil
	}

	if _, err := os.Stat(c.sshKeyPath); os.IsNotExist(err) {
		return nil, nil
	}

	auth, err := ssh.NewPublicKeysFromFile("git", c.sshKeyPath, c.sshPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}

	return auth, nil
}

func (co *Checkout) submodulePath(path string) string {
	return filepath.Join(co.dir, filepath.FromSlash(path))
}
