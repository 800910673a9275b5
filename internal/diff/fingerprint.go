package diff

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/gh-myio/gcdr-sync/gcdr"
	"github.com/gh-myio/gcdr-sync/source"
)

// Fingerprint hashes the entity content that feeds the downstream payload:
// kind, name, type, and every attribute except the sync bookkeeping keys.
// It is recorded on the source entity at write-back time; a SKIP is emitted
// only when the stored fingerprint matches exactly.
func Fingerprint(kind gcdr.EntityKind, entity source.Entity) string {
	keys := make([]string, 0, len(entity.Attributes))
	for key := range entity.Attributes {
		if strings.HasPrefix(key, "gcdr") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	hasher := fnv.New64a()
	write := func(part string) {
		_, _ = hasher.Write([]byte(part))
		_, _ = hasher.Write([]byte{0})
	}

	write(string(kind))
	write(entity.Name)
	write(entity.Type)
	for _, key := range keys {
		write(key + "=" + entity.Attributes[key])
	}

	return fmt.Sprintf("%016x", hasher.Sum64())
}
