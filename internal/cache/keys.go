package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func ReportStatusKey(reportID uuid.UUID) string {
	return fmt.Sprintf("report:status:%s", reportID)
}

func ReportDetailKey(reportID uuid.UUID) string {
	return fmt.Sprintf("report:detail:%s", reportID)
}

func BalanceKey(identity string) string {
	return fmt.Sprintf("credits:balance:%s", identity)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
