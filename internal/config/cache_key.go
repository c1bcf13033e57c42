package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptSessionKey returns the cache key for an attempt session snapshot.
func (r *CacheKeyStruct) AttemptSessionKey(sessionID string) string {
	return fmt.Sprintf("attempt:%s:session", sessionID)
}

// AttemptDraftKey returns the cache key for the autosaved answers of an attempt.
func (r *CacheKeyStruct) AttemptDraftKey(sessionID string) string {
	return fmt.Sprintf("attempt:%s:draft", sessionID)
}

// AttemptDraftVersionKey returns the cache key holding the last issued draft version.
func (r *CacheKeyStruct) AttemptDraftVersionKey(sessionID string) string {
	return fmt.Sprintf("attempt:%s:draft_version", sessionID)
}

// ActivityMonitorChannel returns the Redis PubSub channel name for an activity monitor.
func (r *CacheKeyStruct) ActivityMonitorChannel(activityID string) string {
	return fmt.Sprintf("activity:%s:monitor", activityID)
}

var CacheKey = NewCacheKeyStruct()
