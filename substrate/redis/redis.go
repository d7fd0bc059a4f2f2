// Package redis implements candystore.Substrate backed by a single Redis
// instance via go-redis/v8, using Lua EVAL scripts so the CAS primitives
// (ReplaceRaw, ModifyInPlaceRaw, GetOrCreateRaw) and their companion
// fingerprint-index updates stay atomic the way MemorySubstrate's own
// mutex-guarded shards are (see substrate_memory.go).
package redis

import (
	"context"
	"encoding/hex"
	"strconv"

	goredis "github.com/go-redis/redis/v8"

	"github.com/whalevietnamese/candystore"
)

// Substrate is a Redis-backed candystore.Substrate. A single logical
// keyspace is used for both data rows and fingerprint index sets, scoped
// by an optional key prefix so multiple Stores can share one Redis
// instance.
type Substrate struct {
	cli    *goredis.Client
	prefix string
}

// New wraps an existing go-redis client. prefix is prepended to every key
// this Substrate touches; pass "" for none.
func New(cli *goredis.Client, prefix string) *Substrate {
	return &Substrate{cli: cli, prefix: prefix}
}

func (s *Substrate) dataKey(k []byte) string {
	return s.prefix + string(k)
}

func (s *Substrate) indexKey(ph candystore.PH) string {
	b := ph.Bytes()
	return s.prefix + "ph:" + hex.EncodeToString(b[:])
}

var ctxBG = context.Background()

func (s *Substrate) GetRaw(k []byte) ([]byte, bool, error) {
	v, err := s.cli.Get(ctxBG, s.dataKey(k)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

var setRawScript = goredis.NewScript(`
local prev = redis.call('GET', KEYS[1])
redis.call('SET', KEYS[1], ARGV[1])
if prev == false then
  redis.call('SADD', KEYS[2], KEYS[1])
end
if prev == false then
  return {false, 1}
end
return {prev, 0}
`)

func (s *Substrate) SetRaw(k, v []byte) ([]byte, bool, error) {
	ph := hashKey(k)
	res, err := setRawScript.Run(ctxBG, s.cli, []string{s.dataKey(k), s.indexKey(ph)}, v).Result()
	if err != nil {
		return nil, false, err
	}
	return decodeSetResult(res)
}

var getOrCreateScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur ~= false then
  return {cur, 0}
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], KEYS[1])
return {ARGV[1], 1}
`)

func (s *Substrate) GetOrCreateRaw(k, vDefault []byte) ([]byte, bool, error) {
	ph := hashKey(k)
	res, err := getOrCreateScript.Run(ctxBG, s.cli, []string{s.dataKey(k), s.indexKey(ph)}, vDefault).Result()
	if err != nil {
		return nil, false, err
	}
	return decodeSetResult(res)
}

var replaceRawScript = goredis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if prev == false then
  return {false, 0}
end
redis.call('SET', KEYS[1], ARGV[1])
return {prev, 1}
`)

func (s *Substrate) ReplaceRaw(k, v []byte) ([]byte, bool, error) {
	res, err := replaceRawScript.Run(ctxBG, s.cli, []string{s.dataKey(k)}, v).Result()
	if err != nil {
		return nil, false, err
	}
	return decodeSetResult(res)
}

var modifyInPlaceScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then
  return {0, 0}
end
local off = tonumber(ARGV[1])
local expected = ARGV[2]
local patch = ARGV[3]
if off < 0 or off + string.len(expected) > string.len(cur) then
  return {0, 1}
end
local window = string.sub(cur, off + 1, off + string.len(expected))
if window ~= expected then
  return {0, 1}
end
local newval = string.sub(cur, 1, off) .. patch .. string.sub(cur, off + string.len(patch) + 1)
redis.call('SET', KEYS[1], newval)
return {1, 1}
`)

func (s *Substrate) ModifyInPlaceRaw(k, patch []byte, offset int, expectedOld []byte) (bool, bool, error) {
	res, err := modifyInPlaceScript.Run(ctxBG, s.cli, []string{s.dataKey(k)}, strconv.Itoa(offset), expectedOld, patch).Result()
	if err != nil {
		return false, false, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, false, candystore.ErrBadScriptResult
	}
	replaced := toInt64(vals[0]) == 1
	exists := toInt64(vals[1]) == 1
	return replaced, exists, nil
}

var removeRawScript = goredis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if prev == false then
  return false
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], KEYS[1])
return prev
`)

func (s *Substrate) RemoveRaw(k []byte) ([]byte, bool, error) {
	ph := hashKey(k)
	res, err := removeRawScript.Run(ctxBG, s.cli, []string{s.dataKey(k), s.indexKey(ph)}).Result()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if res == nil {
		return nil, false, nil
	}
	str, ok := res.(string)
	if !ok {
		return nil, false, candystore.ErrBadScriptResult
	}
	return []byte(str), true, nil
}

func (s *Substrate) GetByHash(ph candystore.PH) ([]candystore.KV, error) {
	members, err := s.cli.SMembers(ctxBG, s.indexKey(ph)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	vals, err := s.cli.MGet(ctxBG, members...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]candystore.KV, 0, len(members))
	prefixLen := len(s.prefix)
	for i, m := range members {
		if vals[i] == nil {
			continue
		}
		str, ok := vals[i].(string)
		if !ok {
			continue
		}
		out = append(out, candystore.KV{
			Key:   []byte(m[prefixLen:]),
			Value: []byte(str),
		})
	}
	return out, nil
}

func decodeSetResult(res interface{}) ([]byte, bool, error) {
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, false, candystore.ErrBadScriptResult
	}
	created := toInt64(vals[1]) == 1
	if vals[0] == nil {
		return nil, created, nil
	}
	switch v := vals[0].(type) {
	case string:
		return []byte(v), created, nil
	case bool:
		return nil, created, nil
	default:
		return nil, false, candystore.ErrBadScriptResult
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func hashKey(k []byte) candystore.PH {
	return candystore.HashPH(k)
}
