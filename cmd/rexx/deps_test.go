package main

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"rexx/interpreter-go/pkg/driver"
)

func initGitRepo(t *testing.T, dir string) string {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		_, err = worktree.Add(filepath.ToSlash(rel))
		return err
	}); err != nil {
		t.Fatalf("stage files: %v", err)
	}
	hash, err := worktree.Commit("init", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Rexx CLI",
			Email: "rexx@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return hash.String()
}

func TestDepsInstallFetchesLibraries(t *testing.T) {
	dir := enterTempDir(t)
	repo := filepath.Join(t.TempDir(), "tools")
	if err := os.MkdirAll(repo, 0o755); err != nil {
		t.Fatalf("mkdir repo: %v", err)
	}
	if err := os.WriteFile(filepath.Join(repo, "shout.rxc"), compileImage(t, shoutLibrary), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	rev := initGitRepo(t, repo)

	writeFile(t, filepath.Join(dir, "rexx.yml"), `
libraries:
  tools:
    git: `+repo+`
`)
	writeFile(t, filepath.Join(dir, "prog.yml"), callShout)

	code, stdout, stderr := captureCLI(t, []string{"deps", "install"})
	if code != exitOK {
		t.Fatalf("deps install exited %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Created libraries.lock") {
		t.Fatalf("stdout = %q", stdout)
	}

	lock, err := driver.LoadLockfile(filepath.Join(dir, driver.LockfileName))
	if err != nil {
		t.Fatalf("LoadLockfile: %v", err)
	}
	lib := lock.Find("tools")
	if lib == nil {
		t.Fatalf("missing tools entry: %+v", lock.Libraries)
	}
	if lib.Revision != rev || lib.Source != "git+"+repo+"@"+rev || lib.Checksum == "" {
		t.Fatalf("locked library = %+v, want revision %s", lib, rev)
	}
	checkout := filepath.Join(dir, ".rexx", "libs", "tools", rev, "shout.rxc")
	if _, err := os.Stat(checkout); err != nil {
		t.Fatalf("expected checkout at %s: %v", checkout, err)
	}

	code, stdout, stderr = captureCLI(t, []string{"deps", "install"})
	if code != exitOK || !strings.Contains(stdout, "already up to date") {
		t.Fatalf("second install = %d %q (%s)", code, stdout, stderr)
	}

	code, stdout, stderr = captureCLI(t, []string{"run", "prog.yml"})
	if code != exitOK || stdout != "hey!!\n" {
		t.Fatalf("run = %d %q (%s)", code, stdout, stderr)
	}
}

func TestDepsInstallRequiresConfig(t *testing.T) {
	enterTempDir(t)
	if code, _, _ := captureCLI(t, []string{"deps", "install"}); code != exitFailure {
		t.Fatalf("exit code = %d", code)
	}
}
