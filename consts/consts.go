package consts

import "time"

const (
	SlotSize  = 320 * 1024 // размер одного слота буфера
	ReadChunk = 4096       // гранулярность чтения из сети
	MaxSlots  = 46         // ~14.7MB в памяти на одну сессию

	DefaultPrefetchBytes  = 2 * 1024 * 1024
	DefaultThrottleMargin = 4 * 1024 * 1024

	IdleSpeedNoReaders = 10 * 1024  // байт/с, когда читателей нет вообще
	IdleSpeedBehind    = 100 * 1024 // байт/с, когда читатели отстают

	TransientThreshold = 1024 * 1024 // после стольких байт ошибка считается временной
	RetryWindow        = 10 * time.Second
	StallTimeout       = 30 * time.Second
	ReadWaitSafety     = 5 * time.Second
	SpeedSilence       = time.Second

	PrefetchGrace     = 30 * time.Second // ни одного читателя еще не было
	NotCompletedGrace = 5 * time.Second
	CompletedGrace    = 60 * time.Second

	DefaultTimeout = 11 * time.Second
)
