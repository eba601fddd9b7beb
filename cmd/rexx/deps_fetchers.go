package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"rexx/interpreter-go/pkg/driver"
)

type gitFetcher struct {
	config *driver.Config
}

// Fetch clones spec.Git, checks out the requested revision and moves the
// tree to the library's checkout directory.
func (g *gitFetcher) Fetch(name string, spec *driver.LibrarySpec) (*driver.LockedLibrary, error) {
	url := strings.TrimSpace(spec.Git)
	if url == "" {
		return nil, fmt.Errorf("library %q: git URL required", name)
	}
	baseDir := filepath.Join(g.config.LibraryDir(), driver.SanitizePathSegment(name))
	commit, err := g.checkout(name, baseDir, url, spec)
	if err != nil {
		return nil, err
	}
	checksum, err := dirChecksum(g.config.LibraryCheckoutDir(name, commit))
	if err != nil {
		return nil, fmt.Errorf("library %q: checksum: %w", name, err)
	}
	return &driver.LockedLibrary{
		Name:     name,
		Source:   fmt.Sprintf("git+%s@%s", url, commit),
		Revision: commit,
		Checksum: checksum,
	}, nil
}

func (g *gitFetcher) checkout(name, baseDir, url string, spec *driver.LibrarySpec) (string, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", err
	}
	revision := gitRevisionFromSpec(spec)

	tmpDir, err := os.MkdirTemp(baseDir, "git-fetch-*")
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(tmpDir); err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	repo, err := git.PlainClone(tmpDir, false, &git.CloneOptions{URL: url})
	if err != nil {
		return "", fmt.Errorf("git clone %s: %w", url, err)
	}
	hash, err := repo.ResolveRevision(revision)
	if err != nil {
		return "", fmt.Errorf("resolve revision %s: %w", revision, err)
	}
	commit := hash.String()
	targetDir := g.config.LibraryCheckoutDir(name, commit)
	if _, err := os.Stat(targetDir); err == nil {
		return commit, nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", err
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return "", fmt.Errorf("git checkout %s: %w", revision, err)
	}
	if err := os.Rename(tmpDir, targetDir); err != nil {
		return "", err
	}
	return commit, nil
}

func gitRevisionFromSpec(spec *driver.LibrarySpec) plumbing.Revision {
	if rev := strings.TrimSpace(spec.Rev); rev != "" {
		return plumbing.Revision(rev)
	}
	if tag := strings.TrimSpace(spec.Tag); tag != "" {
		return plumbing.Revision("refs/tags/" + tag)
	}
	if branch := strings.TrimSpace(spec.Branch); branch != "" {
		return plumbing.Revision("refs/remotes/origin/" + branch)
	}
	return plumbing.Revision("HEAD")
}

// dirChecksum hashes the checked out files, ignoring git metadata.
func dirChecksum(path string) (string, error) {
	h := sha256.New()
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		h.Write([]byte(filepath.ToSlash(rel)))
		h.Write(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
