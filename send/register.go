package send

import (
	"log/slog"
	"time"

	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/engine"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/ledger"
	"github.com/xraph/herald/message"
	"github.com/xraph/herald/queue"
	"github.com/xraph/herald/recipient"
)

// Deps are the collaborators the send handlers need.
type Deps struct {
	Ledger    *ledger.Ledger
	Resolver  *recipient.Resolver
	Transport Transport
	Messages  message.Log
	Logger    *slog.Logger

	// SendTimeout bounds each transport call. Zero uses DefaultSendTimeout.
	SendTimeout time.Duration
}

// DefaultSendTimeout bounds a transport call when Deps leaves it unset.
const DefaultSendTimeout = 30 * time.Second

// DefaultQueueConfigs returns the lane settings used for the send types
// unless the engine was configured otherwise. Single sends run wide and
// retry transport failures; batches run narrow, are never retried as a
// whole since that would re-bill delivered recipients, and carry no attempt
// deadline because their length grows with the recipient list.
func DefaultQueueConfigs() []queue.Config {
	return []queue.Config{
		{
			Type:        TypeContact,
			Concurrency: 10,
			Attempts:    3,
			Backoff:     backoff.ExponentialPolicy(time.Second, time.Minute),
		},
		{Type: TypeGroup, Concurrency: 2, Attempts: 1, Timeout: queue.NoTimeout},
		{Type: TypeBulk, Concurrency: 2, Attempts: 1, Timeout: queue.NoTimeout},
	}
}

// Register adds the send job types to eng and declares their default
// lanes. It returns the handlers for direct use in tests.
func Register(eng *engine.Engine, deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = eng.Logger()
	}
	h := NewHandlers(deps, eng.Extensions())

	engine.Register(eng, job.NewDefinition(TypeContact, h.Contact))
	engine.Register(eng, job.NewDefinition(TypeGroup, h.Batch(TypeGroup)))
	engine.Register(eng, job.NewDefinition(TypeBulk, h.Batch(TypeBulk)))

	for _, cfg := range DefaultQueueConfigs() {
		eng.QueueManager().SetDefault(cfg)
	}
	return h
}
