// modgate/utils/system.go
package utils

import (
	"time"
)

// BackupDir is where database backups are written.
var BackupDir string

// GetSQLTime returns the current time in UTC for database storage.
func GetSQLTime() time.Time {
	return time.Now().UTC()
}
