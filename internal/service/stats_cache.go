// stats_cache.go — LRU-кэш статистики владельца с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/miguelitojb9/InstaShare/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	statsCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "instashare_stats_cache_hits_total",
		Help: "Общее количество попаданий в кэш статистики.",
	})
	statsCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "instashare_stats_cache_misses_total",
		Help: "Общее количество промахов кэша статистики.",
	})
)

// StatsCache — кэш статистики по owner_id.
// Кэш живёт в памяти процесса сервера. Изменения, сделанные process-files
// в другом процессе, сбрасывает Purge после HTTP-триггера; запуск по
// расписанию виден не позже чем через TTL.
type StatsCache struct {
	cache *expirable.LRU[string, *model.FileStats]
}

// NewStatsCache создаёт кэш. maxSize — число владельцев, ttl — время жизни записи.
func NewStatsCache(maxSize int, ttl time.Duration) *StatsCache {
	return &StatsCache{cache: expirable.NewLRU[string, *model.FileStats](maxSize, nil, ttl)}
}

// Get возвращает статистику владельца при hit.
func (c *StatsCache) Get(ownerID string) (*model.FileStats, bool) {
	val, ok := c.cache.Get(ownerID)
	if ok {
		statsCacheHitsTotal.Inc()
		return val, true
	}
	statsCacheMissesTotal.Inc()
	return nil, false
}

// Set сохраняет статистику владельца.
func (c *StatsCache) Set(ownerID string, stats *model.FileStats) {
	c.cache.Add(ownerID, stats)
}

// Invalidate удаляет статистику владельца после изменения его файлов.
func (c *StatsCache) Invalidate(ownerID string) {
	c.cache.Remove(ownerID)
}

// Purge удаляет статистику всех владельцев.
func (c *StatsCache) Purge() {
	c.cache.Purge()
}

// Len — количество записей в кэше.
func (c *StatsCache) Len() int {
	return c.cache.Len()
}
