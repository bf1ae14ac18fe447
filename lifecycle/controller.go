// Package lifecycle drives donations from creation to settlement: validation,
// gateway routing, the state machine, retried submission, offline replay and
// the periodic sweeps.
package lifecycle

import (
	"sync"

	"anarchy.ttfm/donations/audit"
	"anarchy.ttfm/donations/clock"
	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/events"
	"anarchy.ttfm/donations/network"
	"anarchy.ttfm/donations/offline"
	"anarchy.ttfm/donations/retry"
	"anarchy.ttfm/donations/routing"
	"anarchy.ttfm/donations/shabbat"
	"anarchy.ttfm/donations/utils"
	"anarchy.ttfm/donations/validation"
	badger "github.com/dgraph-io/badger/v4"
)

// PaymentMethodService resolves the stored method a donation pays with
type PaymentMethodService interface {
	Lookup(userId, id string) (method donation.PaymentMethod, err error)
}

// AssociationService confirms the recipient accepts donations
type AssociationService interface {
	CheckActive(id string) (err error)
}

// EncryptionService seals confidential fields at rest
type EncryptionService interface {
	Encrypt(plaintext string) (sealed string, err error)
	Decrypt(sealed string) (plaintext string, err error)
}

type Config struct {
	// Badger database to use
	DB *badger.DB
	// Offline queue sharing the same database
	Queue        *offline.Queue
	Validator    *validation.Validator
	Router       *routing.Router
	Retry        *retry.Coordinator
	Recorder     *audit.Recorder
	Bus          *events.Bus
	Methods      PaymentMethodService
	Associations AssociationService
	// Optional. Without it confidential fields are stored in clear
	Cipher EncryptionService
	// Optional. Without it the controller is always online
	Network network.Monitor
	Clock   clock.Clock
	// Restricted window of Shabbat compliant donations. The zero value never restricts
	Window shabbat.Window
	// Donations processed in parallel by the sweeps
	Workers int
}

type Controller struct {
	db           *badger.DB
	queue        *offline.Queue
	validator    *validation.Validator
	router       *routing.Router
	retry        *retry.Coordinator
	recorder     *audit.Recorder
	machine      *donation.Machine
	bus          *events.Bus
	methods      PaymentMethodService
	associations AssociationService
	cipher       EncryptionService
	network      network.Monitor
	clock        clock.Clock
	window       shabbat.Window
	jobs         *utils.JobPool
	locks        *utils.KeyedMutex
	inflight     sync.WaitGroup
}

var _ offline.Replayer = (*Controller)(nil)

func New(config Config) (ctrl *Controller) {
	ctrl = &Controller{
		db:           config.DB,
		queue:        config.Queue,
		validator:    config.Validator,
		router:       config.Router,
		retry:        config.Retry,
		recorder:     config.Recorder,
		bus:          config.Bus,
		methods:      config.Methods,
		associations: config.Associations,
		cipher:       config.Cipher,
		network:      config.Network,
		clock:        config.Clock,
		window:       config.Window,
		jobs:         utils.NewJobPool(utils.Default(config.Workers, 8)),
		locks:        utils.NewKeyedMutex(),
	}
	if ctrl.clock == nil {
		ctrl.clock = clock.System{}
	}
	if ctrl.bus == nil {
		ctrl.bus = events.New(events.Config{})
	}
	if ctrl.retry == nil {
		ctrl.retry = retry.New(retry.Config{Policy: retry.DefaultPolicy()})
	}
	if ctrl.recorder == nil {
		ctrl.recorder = audit.New(audit.Config{Clock: ctrl.clock})
	}
	ctrl.machine = ctrl.recorder.Machine()
	return ctrl
}

func (c *Controller) online() bool {
	return c.network == nil || c.network.Online()
}

// Drain waits for every donation being driven in the background
func (c *Controller) Drain() {
	c.inflight.Wait()
}
