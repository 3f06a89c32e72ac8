package filestore

import (
	"fmt"

	"github.com/spf13/afero"
)

// NewRestricted returns a Filestore that confines every path to root.
// Unlike the original cfdppy RestrictedFilestore (which silently remaps an
// escaping path back under the root), this wrapper lets an escape attempt
// fail outright: afero.NewBasePathFs rejects any path that resolves
// outside root, and that error propagates to the caller as a filestore
// error, which the handlers turn into FILESTORE_REJECTION.
func NewRestricted(base afero.Fs, root string) Filestore {
	return NewNative(afero.NewBasePathFs(base, root))
}

// ErrEscapesRoot names the failure of a path that cannot be confined to a
// RestrictedFilestore's root. No operation of this package returns it;
// afero.NewBasePathFs's own path-confinement error is wrapped with
// filestore-specific context by the native operations in filestore.go, so
// callers pattern-match on the operation's wrapped error instead.
var ErrEscapesRoot = fmt.Errorf("filestore: path escapes restricted root")
