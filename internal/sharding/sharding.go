package sharding

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// ShardCount is the fixed number of partitions for change subjects.
const ShardCount = 1024

const subjectPrefix = "app.change."

// GetShardID calculates the deterministic shard for an owner id.
func GetShardID(ownerID string) int {
	return int(crc32.ChecksumIEEE([]byte(ownerID)) % ShardCount)
}

// ChangeSubject returns the NATS subject for changes owned by ownerID:
// app.change.{shard}.owner.{owner}.
func ChangeSubject(ownerID string) string {
	return fmt.Sprintf("%s%d.owner.%s", subjectPrefix, GetShardID(ownerID), ownerID)
}

// ParseChangeSubject is the inverse of ChangeSubject. It rejects subjects
// whose shard does not match the owner.
func ParseChangeSubject(subject string) (shard int, ownerID string, ok bool) {
	rest, found := strings.CutPrefix(subject, subjectPrefix)
	if !found {
		return 0, "", false
	}
	shardPart, ownerID, found := strings.Cut(rest, ".owner.")
	if !found || ownerID == "" {
		return 0, "", false
	}
	shard, err := strconv.Atoi(shardPart)
	if err != nil || shard != GetShardID(ownerID) {
		return 0, "", false
	}
	return shard, ownerID, true
}
