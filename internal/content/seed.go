package content

import (
	"bytes"
	"encoding/json"
	"io/fs"

	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

// SeedPath is the location of the seed snapshot inside the embedded assets.
const SeedPath = "seed/content.json"

// LoadSeed reads the seed snapshot from fsys. The seed has the same shape as a
// CMS snapshot query result and is validated with the same rules.
func LoadSeed(fsys fs.FS, opts ValidationOptions) (*Snapshot, error) {
	raw, err := fs.ReadFile(fsys, SeedPath)
	if err != nil {
		return nil, xerrors.Wrap(err, "read seed content")
	}

	// compact so the revision matches what the CMS client would produce for the same documents
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, xerrors.Wrap(err, "seed content is not valid JSON")
	}

	snap, err := NewSnapshot(buf.Bytes(), SourceSeed)
	if err != nil {
		return nil, err
	}
	if err := ValidateSnapshot(snap, opts); err != nil {
		return nil, xerrors.Wrap(err, "seed content")
	}
	return snap, nil
}
