package models

import "time"

// PlatformStats are the aggregate counters shown on the admin dashboard.
type PlatformStats struct {
	TotalRPCCalls int64     `json:"totalRpcCalls"`
	DailyRPCCalls int64     `json:"dailyRpcCalls"`
	ActiveBots    int64     `json:"activeBots"`
	TotalUsers    int64     `json:"totalUsers"`
	Revenue       int64     `json:"revenue"` // cents
	LastReset     time.Time `json:"lastReset"`
}

// StatsUpdate mirrors BotUpdate: absolute values for set fields.
type StatsUpdate struct {
	TotalRPCCalls *int64
	DailyRPCCalls *int64
	ActiveBots    *int64
	TotalUsers    *int64
	Revenue       *int64
	LastReset     *time.Time
}

func (u StatsUpdate) Apply(s *PlatformStats) {
	if u.TotalRPCCalls != nil {
		s.TotalRPCCalls = *u.TotalRPCCalls
	}
	if u.DailyRPCCalls != nil {
		s.DailyRPCCalls = *u.DailyRPCCalls
	}
	if u.ActiveBots != nil {
		s.ActiveBots = *u.ActiveBots
	}
	if u.TotalUsers != nil {
		s.TotalUsers = *u.TotalUsers
	}
	if u.Revenue != nil {
		s.Revenue = *u.Revenue
	}
	if u.LastReset != nil {
		s.LastReset = *u.LastReset
	}
}
