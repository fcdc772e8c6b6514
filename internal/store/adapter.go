package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// KeyType is the Redis type backing a key, as reported by TYPE.
type KeyType string

const (
	KeyNone   KeyType = "none"
	KeyString KeyType = "string"
	KeyList   KeyType = "list"
	KeySet    KeyType = "set"
	KeyZSet   KeyType = "zset"
	KeyHash   KeyType = "hash"
	KeyStream KeyType = "stream"
)

// Readable reports whether Size and Range know how to read the type. Hashes
// and streams are listed by the key inspector but read as empty.
func (t KeyType) Readable() bool {
	switch t {
	case KeyString, KeyList, KeySet, KeyZSet:
		return true
	default:
		return false
	}
}

func (s *Store) Type(ctx context.Context, key string) (KeyType, error) {
	t, err := s.client.Type(ctx, s.Key(key)).Result()
	if err != nil {
		return KeyNone, s.Wrap("type", err)
	}
	return KeyType(t), nil
}

// Size is LLEN, SCARD, ZCARD or, for strings, the length of the value.
// Absent keys have size 0.
func (s *Store) Size(ctx context.Context, key string) (int64, error) {
	t, err := s.Type(ctx, key)
	if err != nil {
		return 0, err
	}

	k := s.Key(key)
	var n int64
	switch t {
	case KeyList:
		n, err = s.client.LLen(ctx, k).Result()
	case KeySet:
		n, err = s.client.SCard(ctx, k).Result()
	case KeyString:
		n, err = s.client.StrLen(ctx, k).Result()
	case KeyZSet:
		n, err = s.client.ZCard(ctx, k).Result()
	default:
		return 0, nil
	}
	if err != nil {
		return 0, s.Wrap("size", err)
	}
	return n, nil
}

// Range returns the items of key from start through start+count inclusive, so
// a page holds up to count+1 items. A string is always a single item. Set
// members come back in whatever order SMEMBERS enumerates them, which is not
// stable across calls.
func (s *Store) Range(ctx context.Context, key string, start, count int64) ([]string, error) {
	if start < 0 {
		start = 0
	}
	if count < 0 {
		return []string{}, nil
	}

	t, err := s.Type(ctx, key)
	if err != nil {
		return nil, err
	}

	k := s.Key(key)
	var items []string
	switch t {
	case KeyList:
		items, err = s.client.LRange(ctx, k, start, start+count).Result()
	case KeySet:
		var members []string
		members, err = s.client.SMembers(ctx, k).Result()
		items = sliceInclusive(members, start, count)
	case KeyString:
		var v string
		v, err = s.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		items = []string{v}
	case KeyZSet:
		items, err = s.client.ZRange(ctx, k, start, start+count).Result()
	default:
		return []string{}, nil
	}
	if err != nil {
		return nil, s.Wrap("range", err)
	}
	if items == nil {
		items = []string{}
	}
	return items, nil
}

func sliceInclusive(items []string, start, count int64) []string {
	n := int64(len(items))
	if start >= n {
		return []string{}
	}
	end := min(start+count+1, n)
	return items[start:end]
}

// Keys lists every key under the namespace, namespace stripped and sorted.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	pattern := "*"
	prefix := ""
	if s.namespace != "" {
		prefix = s.namespace + ":"
		pattern = prefix + "*"
	}

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, s.Wrap("keys", err)
	}

	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// ServerInfo parses INFO into field/value pairs, dropping section headers.
func (s *Store) ServerInfo(ctx context.Context) (map[string]string, error) {
	raw, err := s.client.Info(ctx).Result()
	if err != nil {
		return nil, s.Wrap("info", err)
	}
	return parseInfo(raw), nil
}

func parseInfo(raw string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		info[name] = value
	}
	return info
}

// Counter reads an integer string, treating an absent key as 0. A value that
// is not an integer is an error.
func (s *Store) Counter(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, s.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, s.Wrap("counter", err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}
	return n, nil
}
