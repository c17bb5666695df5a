package models

import (
	"fmt"
	"time"
)

// Shift 班次，StartTime/EndTime 为 HH:MM；EndTime 早于 StartTime 表示跨夜
type Shift struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

const clockLayout = "15:04"

// ParseClock 解析 HH:MM，返回自 00:00 起的时长
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Overnight 是否跨夜
func (s Shift) Overnight() bool {
	start, err1 := ParseClock(s.StartTime)
	end, err2 := ParseClock(s.EndTime)
	if err1 != nil || err2 != nil {
		return false
	}
	return end < start
}

// Duration 班次时长，按 24 小时取模
func (s Shift) Duration() (time.Duration, error) {
	start, err := ParseClock(s.StartTime)
	if err != nil {
		return 0, err
	}
	end, err := ParseClock(s.EndTime)
	if err != nil {
		return 0, err
	}
	d := end - start
	if d < 0 {
		d += 24 * time.Hour
	}
	return d, nil
}

// Validate 校验班次时间格式
func (s Shift) Validate() error {
	if _, err := ParseClock(s.StartTime); err != nil {
		return err
	}
	if _, err := ParseClock(s.EndTime); err != nil {
		return err
	}
	return nil
}
