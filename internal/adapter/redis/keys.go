package redis

const (
	totalPrefix    = "events:total:"
	hourlyPrefix   = "events:hourly:"
	activityPrefix = "user:activity:"
	backupPrefix   = "backup:stats:"
	minutePrefix   = "metrics:minute:"

	// UpdatesChannel is the single pub/sub channel carrying update records.
	UpdatesChannel = "dashboard-updates"

	scanCount = 100
)

func totalKey(category string) string { return totalPrefix + category }

func hourlyKey(category, bucket string) string { return hourlyPrefix + category + ":" + bucket }

func activityKey(identity string) string { return activityPrefix + identity }

// BackupKey names the hourly snapshot backup for the given bucket.
func BackupKey(bucket string) string { return backupPrefix + bucket }

// MinuteKey names the per-minute metrics snapshot, formatted YYYY-MM-DD-HH-MM.
func MinuteKey(minute string) string { return minutePrefix + minute }
