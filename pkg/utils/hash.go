package utils

import (
	"crypto/md5"
	"fmt"
	"time"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// GenerateIncidentNumber produces a stable-format identifier for records
// imported without one.
func GenerateIncidentNumber() string {
	return fmt.Sprintf("INC%d", time.Now().UnixNano())
}
