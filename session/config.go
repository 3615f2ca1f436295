package session

import (
	"time"

	"github.com/ozontech/fetchbuf/consts"
)

type Config struct {
	SlotSize  int
	MaxSlots  int
	ReadChunk int

	// PrefetchBytes is the buffered size after which an idle fetch is throttled.
	PrefetchBytes int64
	// ThrottleMargin is how far the fetch may run ahead of the furthest requested byte before throttling.
	ThrottleMargin     int64
	IdleSpeedNoReaders int // bytes per second
	IdleSpeedBehind    int // bytes per second

	TransientThreshold int64
	RetryWindow        time.Duration
	StallTimeout       time.Duration
	ReadWaitSafety     time.Duration
	SpeedSilence       time.Duration

	PrefetchGrace     time.Duration
	NotCompletedGrace time.Duration
	CompletedGrace    time.Duration

	LazyStart bool
}

func DefaultConfig() Config {
	return Config{
		SlotSize:  consts.SlotSize,
		MaxSlots:  consts.MaxSlots,
		ReadChunk: consts.ReadChunk,

		PrefetchBytes:      consts.DefaultPrefetchBytes,
		ThrottleMargin:     consts.DefaultThrottleMargin,
		IdleSpeedNoReaders: consts.IdleSpeedNoReaders,
		IdleSpeedBehind:    consts.IdleSpeedBehind,

		TransientThreshold: consts.TransientThreshold,
		RetryWindow:        consts.RetryWindow,
		StallTimeout:       consts.StallTimeout,
		ReadWaitSafety:     consts.ReadWaitSafety,
		SpeedSilence:       consts.SpeedSilence,

		PrefetchGrace:     consts.PrefetchGrace,
		NotCompletedGrace: consts.NotCompletedGrace,
		CompletedGrace:    consts.CompletedGrace,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SlotSize <= 0 {
		c.SlotSize = d.SlotSize
	}
	if c.MaxSlots <= 0 {
		c.MaxSlots = d.MaxSlots
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = d.ReadChunk
	}
	if c.ReadChunk > c.SlotSize {
		c.ReadChunk = c.SlotSize
	}
	if c.IdleSpeedNoReaders <= 0 {
		c.IdleSpeedNoReaders = d.IdleSpeedNoReaders
	}
	if c.IdleSpeedBehind <= 0 {
		c.IdleSpeedBehind = d.IdleSpeedBehind
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = d.StallTimeout
	}
	if c.ReadWaitSafety <= 0 {
		c.ReadWaitSafety = d.ReadWaitSafety
	}
	if c.SpeedSilence <= 0 {
		c.SpeedSilence = d.SpeedSilence
	}
	if c.PrefetchGrace <= 0 {
		c.PrefetchGrace = d.PrefetchGrace
	}
	return c
}
