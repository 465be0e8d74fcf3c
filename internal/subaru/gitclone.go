package subaru

import (
	"context"
	"fmt"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// cloneGitRepo clones url into dest and, when ref is non-empty, checks out
// the named commit, branch, or tag.
func cloneGitRepo(ctx context.Context, url, ref, dest string) error {
	repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:      url,
		Progress: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("cloning %s: %w", url, err)
	}
	if ref == "" {
		return nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree of %s: %w", dest, err)
	}
	var hash plumbing.Hash
	if plumbing.IsHash(ref) {
		hash = plumbing.NewHash(ref)
	} else {
		resolved, err := repo.ResolveRevision(plumbing.Revision(ref))
		if err != nil {
			return fmt.Errorf("resolving ref %q in %s: %w", ref, url, err)
		}
		hash = *resolved
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return fmt.Errorf("checking out %q in %s: %w", ref, dest, err)
	}
	cPrintln(colInfo, "Checked out", ref, "in", dest)
	return nil
}
