package gitengine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("init\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial commit")
	return dir
}

func TestCommitAll_ReturnsNewSha(t *testing.T) {
	dir := initRepo(t)
	e := New(dir)
	ctx := context.Background()

	firstSha, err := e.run(ctx, "rev-parse", "HEAD")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.go"), []byte("package main\n"), 0o644))
	sha, err := e.CommitAll(ctx, "feat(auth): complete parse-header in jwt-validator")
	require.NoError(t, err)
	assert.NotEmpty(t, sha)
	assert.NotEqual(t, firstSha, sha)
}

func TestEnsureBranch_CreatesAndReusesBranch(t *testing.T) {
	dir := initRepo(t)
	e := New(dir)
	ctx := context.Background()

	require.NoError(t, e.EnsureBranch(ctx, "lopen/auth"))
	out, err := e.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	require.NoError(t, err)
	assert.Contains(t, out, "lopen/auth")

	_, err = e.run(ctx, "checkout", "-")
	require.NoError(t, err)
	require.NoError(t, e.EnsureBranch(ctx, "lopen/auth"), "must not fail when the branch already exists")
}

func TestDiffSince_ReturnsUnifiedDiff(t *testing.T) {
	dir := initRepo(t)
	e := New(dir)
	ctx := context.Background()

	base, err := e.run(ctx, "rev-parse", "HEAD")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("init\nmore\n"), 0o644))
	_, err = e.CommitAll(ctx, "docs: update readme")
	require.NoError(t, err)

	diff, err := e.DiffSince(ctx, trim(base))
	require.NoError(t, err)
	assert.Contains(t, diff, "more")
}

func TestLastCommitTouching_FindsAndMissing(t *testing.T) {
	dir := initRepo(t)
	e := New(dir)
	ctx := context.Background()

	sha, ok, err := e.LastCommitTouching(ctx, "README.md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, sha)

	_, ok, err = e.LastCommitTouching(ctx, "does-not-exist.go")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetHard_DiscardsChanges(t *testing.T) {
	dir := initRepo(t)
	e := New(dir)
	ctx := context.Background()

	base, err := e.run(ctx, "rev-parse", "HEAD")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("changed\n"), 0o644))
	_, err = e.CommitAll(ctx, "chore: change")
	require.NoError(t, err)

	require.NoError(t, e.ResetHard(ctx, trim(base)))
	content, err := os.ReadFile(filepath.Join(dir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "init\n", string(content))
}

func trim(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
