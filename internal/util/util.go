package util

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

func Assert(cond bool, msg string) {
	ignoreAsserts := viper.GetBool("ignore-asserts")
	if !ignoreAsserts && !cond {
		panic(msg)
	}
}

func ToPointer[T any](val T) *T {
	return &val
}

// Backoff returns the delay before CAS retry attempt n (0-indexed),
// doubling from base and capped at max.
func Backoff(n int, base time.Duration, max time.Duration) time.Duration {
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Next returns the next activation after curr (unix ms) for a cron expression.
func Next(curr int64, cronExp string) (int64, error) {
	scheduler, err := ParseCron(cronExp)
	if err != nil {
		return 0, err
	}

	return scheduler.Next(time.UnixMilli(curr)).UnixMilli(), nil
}

func ParseCron(cronExp string) (cron.Schedule, error) {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(cronExp)
}
