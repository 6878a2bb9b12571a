package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/device-gateway/internal/health"
	redisstore "github.com/taoyao-code/device-gateway/internal/storage/redis"
	"github.com/taoyao-code/device-gateway/internal/wsserver"
)

// NewHealthAggregator 创建健康检查聚合器：Redis 必选，数据库仅 postgres 驱动时加入
func NewHealthAggregator(rc *redisstore.Client, states health.OnlineCounter, pool *pgxpool.Pool) *health.Aggregator {
	agg := health.NewAggregator(health.NewRedisChecker(rc, states))
	if pool != nil {
		agg.AddChecker(health.NewDatabaseChecker(pool))
	}
	return agg
}

// AddWebSocketChecker WebSocket 服务启动后加入检查
func AddWebSocketChecker(agg *health.Aggregator, srv *wsserver.Server) {
	agg.AddChecker(health.NewWebSocketChecker(srv))
}

// AddDependencyChecker 可选依赖（InfluxDB、MQTT）加入检查
func AddDependencyChecker(agg *health.Aggregator, name string, dep health.Pinger) {
	agg.AddChecker(health.NewDependencyChecker(name, dep))
}
