package diskstore

import (
	"fmt"

	"go.uber.org/zap"
)

// NewStore creates a disk store based on the store type.
func NewStore(storeType, root string, log *zap.Logger) (Store, error) {
	switch storeType {
	case "file":
		log.Info("Using file tile cache", zap.String("cache_dir", root))
		return NewFileStore(root)
	case "disabled":
		log.Info("Disk tile cache disabled")
		return NewNoopStore(), nil
	default:
		return nil, fmt.Errorf("unknown disk cache type: %s (supported: file, disabled)", storeType)
	}
}
