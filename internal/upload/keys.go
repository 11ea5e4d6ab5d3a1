package upload

import (
	"strconv"
	"strings"
)

// Storage prefixes. Every artifact the service writes lives under one of these.
const (
	VideosPrefix = "videos/"
	ChunksPrefix = "chunks/"
	// MetaPrefix holds session metadata written by older deployments. Nothing
	// writes it any more; the sweeper still expires it.
	MetaPrefix = "meta/"
)

// Prefixes lists every prefix the sweeper expires.
var Prefixes = []string{VideosPrefix, ChunksPrefix, MetaPrefix}

// VideoKey returns the key of the assembled video for an upload.
func VideoKey(uploadID string) string {
	return VideosPrefix + uploadID
}

// ChunkPrefix returns the prefix holding all chunks of an upload.
func ChunkPrefix(uploadID string) string {
	return ChunksPrefix + uploadID + "/"
}

// ChunkKey returns the key of one chunk.
func ChunkKey(uploadID string, index int) string {
	return ChunkPrefix(uploadID) + strconv.Itoa(index)
}

// ParseChunkIndex extracts the trailing index from a chunk key.
// Only canonical decimal indices are accepted, so "07" or "-1" are rejected.
func ParseChunkIndex(key string) (int, bool) {
	i := strings.LastIndexByte(key, '/')
	if i < 0 {
		return 0, false
	}
	s := key[i+1:]
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || strconv.Itoa(n) != s {
		return 0, false
	}
	return n, true
}
