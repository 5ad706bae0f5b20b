package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// DriveRoundsKey returns the cache key for a drive's ordered round list
func (r *CacheKeyStruct) DriveRoundsKey(driveID string) string {
	return fmt.Sprintf("drive:%s:rounds", driveID)
}

// RoundKey returns the cache key for a single round
func (r *CacheKeyStruct) RoundKey(roundID string) string {
	return fmt.Sprintf("round:%s", roundID)
}

// ProctorSessionKey marks a live proctoring stream for one enrollment round
func (r *CacheKeyStruct) ProctorSessionKey(enrollmentID, roundID string) string {
	return fmt.Sprintf("enrollment:%s:round:%s:proctor", enrollmentID, roundID)
}

// DriveMonitorChannel returns the Redis PubSub channel name for a drive monitor
func (r *CacheKeyStruct) DriveMonitorChannel(driveID string) string {
	return fmt.Sprintf("drive:%s:monitor", driveID)
}

var CacheKey = NewCacheKeyStruct()
