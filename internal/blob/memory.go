package blob

import "labcore/internal/infra/blob/memory"

// NewMemory returns an in-process blob store.
func NewMemory() Store { return memory.New() }
