package localstore

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Open selects a storage backend by name: "file", "redis" or "memory".
// redisOpts is only read for the redis backend.
func Open(backend, dir, origin string, redisOpts *redis.Options) (Storage, error) {
	switch backend {
	case "file":
		return NewFile(dir, origin)
	case "redis":
		if redisOpts == nil {
			return nil, fmt.Errorf("redis storage requires connection options")
		}
		return NewRedis(redis.NewClient(redisOpts), origin), nil
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}
