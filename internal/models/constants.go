package models

import "time"

const (
	StatusPendingSync = "PENDING_SYNC"
	StatusSynced      = "SYNCED"
)

const (
	// PendingSchemaVersion версия формата сохраненных PendingOperation
	PendingSchemaVersion = 1

	// DefaultCacheTTL время жизни закэшированного ресурса
	DefaultCacheTTL = time.Hour

	// DefaultRetryAttempts количество попыток онлайн-операции
	DefaultRetryAttempts = 3

	// DefaultRetryBaseDelay базовая задержка линейного backoff
	DefaultRetryBaseDelay = time.Second

	// DefaultOperationTimeout таймаут одной удаленной операции
	DefaultOperationTimeout = 10 * time.Second

	// DefaultDeliveryTimeout таймаут доставки одной отложенной операции
	DefaultDeliveryTimeout = 15 * time.Second

	// DefaultProbeInterval период опроса состояния сети
	DefaultProbeInterval = 10 * time.Second

	// LastSyncKey ключ времени последней синхронизации
	LastSyncKey = "lastSync"
)
