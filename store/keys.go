package store

import (
	"fmt"
	"strconv"
	"strings"
)

// keyBuilder produces the Redis key layout:
//
//	wf:session:{id}:meta      session metadata JSON
//	wf:session:{id}:version   current version (integer, CAS anchor)
//	wf:session:{id}:state:v{n} versioned state JSON
//	wf:session:{id}:ctx       context ring (list, newest first)
//	wf:user:{uid}:sessions    user session index (set)
//	wf:counter:{bucket}       analytics counter
type keyBuilder struct {
	prefix string
}

func newKeyBuilder(prefix string) *keyBuilder {
	if prefix == "" {
		prefix = "wf"
	}
	return &keyBuilder{prefix: prefix}
}

func (k *keyBuilder) meta(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:meta", k.prefix, sessionID)
}

func (k *keyBuilder) version(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:version", k.prefix, sessionID)
}

func (k *keyBuilder) state(sessionID string, version int) string {
	return fmt.Sprintf("%s:session:%s:state:v%d", k.prefix, sessionID, version)
}

func (k *keyBuilder) statePattern(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:state:v*", k.prefix, sessionID)
}

func (k *keyBuilder) ctx(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:ctx", k.prefix, sessionID)
}

func (k *keyBuilder) metaPattern() string {
	return fmt.Sprintf("%s:session:*:meta", k.prefix)
}

func (k *keyBuilder) userSessions(userID string) string {
	return fmt.Sprintf("%s:user:%s:sessions", k.prefix, userID)
}

func (k *keyBuilder) counter(bucket string) string {
	return fmt.Sprintf("%s:counter:%s", k.prefix, bucket)
}

// stateVersion extracts the version number from a state key.
func (k *keyBuilder) stateVersion(key string) (int, bool) {
	i := strings.LastIndex(key, ":state:v")
	if i < 0 {
		return 0, false
	}
	v, err := strconv.Atoi(key[i+len(":state:v"):])
	if err != nil {
		return 0, false
	}
	return v, true
}

// sessionID extracts the session id from a meta key.
func (k *keyBuilder) sessionID(metaKey string) (string, bool) {
	trimmed := strings.TrimPrefix(metaKey, k.prefix+":session:")
	id := strings.TrimSuffix(trimmed, ":meta")
	if trimmed == metaKey || id == trimmed {
		return "", false
	}
	return id, true
}
