package blob

import "labcore/internal/infra/blob/fs"

// NewFilesystem stores blobs beneath root. An empty root defaults to ./blobdata.
func NewFilesystem(root, baseURL string) (Store, error) {
	if root == "" {
		root = "./blobdata"
	}
	st, err := fs.New(root, baseURL)
	if err != nil {
		return nil, err
	}
	return st, nil
}
