package documents

import "errors"

// ErrNotFound indicates the document does not exist or is not visible to the caller.
var ErrNotFound = errors.New("document not found")

// ErrDuplicateHash indicates the user already uploaded a file with the same content hash.
var ErrDuplicateHash = errors.New("duplicate document content for user")
