package rollback

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Config captures the dependencies and policy needed to build a Manager.
type Config struct {
	Logger  zerolog.Logger
	Backend Backend
	Store   RecordStore
	Sink    Sink
	Metrics *Metrics

	// Roles. Both must be non-zero.
	Admin    common.Address
	Guardian common.Address

	// QueueableDuration is how long a proposal stays queueable. Defaults to
	// MinQueueableDuration when unset.
	QueueableDuration time.Duration

	// MinQueueableDuration is the immutable floor for QueueableDuration.
	MinQueueableDuration time.Duration

	// Now supplies the clock used for every state derivation. Defaults to
	// time.Now.
	Now func() time.Time
}

func (c *Config) apply() error {
	if c.Logger.GetLevel() == zerolog.NoLevel {
		c.Logger = zerolog.Nop()
	}
	if c.Backend == nil {
		return errors.New("rollback: backend is required")
	}
	if c.Store == nil {
		c.Store = NewMemoryRecordStore()
	}
	if c.Sink == nil {
		c.Sink = NopSink{}
	}
	if c.Admin == (common.Address{}) {
		return NewError(KindInvalidAddress, "admin address must not be zero")
	}
	if c.Guardian == (common.Address{}) {
		return NewError(KindInvalidAddress, "guardian address must not be zero")
	}
	if c.MinQueueableDuration <= 0 {
		return NewError(KindInvalidQueueableDuration, "min queueable duration must be positive")
	}
	if c.QueueableDuration == 0 {
		c.QueueableDuration = c.MinQueueableDuration
	}
	if c.QueueableDuration < c.MinQueueableDuration {
		return NewError(KindInvalidQueueableDuration, "queueable duration below floor")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}
