package question

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileNotifier keeps origin back-references in a single JSON ledger per
// origin kind: a map from origin uuid to the questions referencing it. It
// backs origin kinds that have no store of their own in this process.
type FileNotifier struct {
	path string

	mu   sync.Mutex
	refs map[string][]Reference
}

// NewFileNotifier loads (or creates) the ledger file for one origin kind
// under dir, named after the kind.
func NewFileNotifier(dir string, kind OriginKind) (*FileNotifier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating origins directory: %w", err)
	}

	n := &FileNotifier{
		path: filepath.Join(dir, string(kind)+".json"),
		refs: make(map[string][]Reference),
	}

	data, err := os.ReadFile(n.path)
	if err != nil {
		if os.IsNotExist(err) {
			return n, nil
		}
		return nil, fmt.Errorf("reading origin ledger %s: %w", n.path, err)
	}
	if err := json.Unmarshal(data, &n.refs); err != nil {
		return nil, fmt.Errorf("parsing origin ledger %s: %w", n.path, err)
	}
	return n, nil
}

func (n *FileNotifier) saveLocked() error {
	data, err := json.Marshal(n.refs)
	if err != nil {
		return fmt.Errorf("marshalling origin ledger: %w", err)
	}
	if err := os.WriteFile(n.path, data, 0o644); err != nil {
		return fmt.Errorf("writing origin ledger %s: %w", n.path, err)
	}
	return nil
}

// AttachReference records that the question references the origin object.
// Re-attaching the same question is a no-op.
func (n *FileNotifier) AttachReference(ctx context.Context, originUUID string, ref Reference) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, existing := range n.refs[originUUID] {
		if existing.UUID == ref.UUID {
			return nil
		}
	}
	n.refs[originUUID] = append(n.refs[originUUID], ref)
	return n.saveLocked()
}

// DetachReference removes the question's reference. A reference that is
// already gone is not an error.
func (n *FileNotifier) DetachReference(ctx context.Context, originUUID string, ref Reference) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	existing, ok := n.refs[originUUID]
	if !ok {
		return nil
	}
	kept := existing[:0]
	for _, e := range existing {
		if e.UUID != ref.UUID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(existing) {
		return nil
	}
	if len(kept) == 0 {
		delete(n.refs, originUUID)
	} else {
		n.refs[originUUID] = kept
	}
	return n.saveLocked()
}

// References returns the questions currently attached to the origin object.
func (n *FileNotifier) References(originUUID string) []Reference {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Reference, len(n.refs[originUUID]))
	copy(out, n.refs[originUUID])
	return out
}
