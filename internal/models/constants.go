package models

const (
	DateLayout = "2006-01-02"

	// DefaultSlotCapacity число мест в одном часовом слоте
	DefaultSlotCapacity = 50

	// DefaultHorizonDays на сколько дней вперёд генерируются слоты
	DefaultHorizonDays = 30

	DefaultOpenHour  = 8
	DefaultCloseHour = 20

	// DefaultBlockedHour час, в который зал закрыт
	DefaultBlockedHour = 13

	DefaultMinLeadHours = 24
	DefaultDailyLimit   = 2
	DefaultWeeklyLimit  = 3

	// DefaultIdempotencyTTL время жизни ключа идемпотентности в секундах
	DefaultIdempotencyTTL = 24 * 60 * 60

	// RateLimitRequests количество запросов бронирования в окне
	RateLimitRequests = 20

	// RateLimitWindow окно ограничения частоты в секундах
	RateLimitWindow = 60

	// DefaultAuditPageSize размер страницы журнала аудита
	DefaultAuditPageSize = 50

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000
)
