package app

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateInstanceID 生成网关实例ID
// 优先使用环境变量 INSTANCE_ID，否则为 {app}-{hostname}-{uuid前8位}
func GenerateInstanceID(appName string) string {
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		return id
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s-%s", appName, hostname, uuid.NewString()[:8])
}
