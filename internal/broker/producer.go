// =============================================================================
// PRODUCER - A CONNECTED PUBLISHER HANDLE
// =============================================================================
//
// A Producer is what the connection layer hands to Topic.AddProducer. The
// topic never owns the network connection; it only drives it through the
// Connection interface:
//
//   ┌──────────────┐  AddProducer    ┌──────────────┐
//   │  connection  │ ──────────────► │    Topic     │
//   │    layer     │                 │              │
//   │              │ ◄────────────── │ DisableReads │  publish throttled
//   │ (Connection) │ ◄────────────── │ EnableReads  │  gates clear again
//   │              │ ◄────────────── │ CloseProducer│  replaced / topic gone
//   └──────────────┘                 └──────────────┘
//
// NAMES:
// Clients may choose a producer name or let the broker generate one. Only
// broker-generated names can be taken over by a reconnecting successor.
//
// =============================================================================

package broker

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// AccessMode is how a producer wants to share the topic.
type AccessMode int

const (
	// AccessShared coexists with other shared producers
	AccessShared AccessMode = iota

	// AccessExclusive demands sole ownership and fails fast on conflict
	AccessExclusive

	// AccessWaitForExclusive demands sole ownership and queues on conflict
	AccessWaitForExclusive
)

func (m AccessMode) String() string {
	switch m {
	case AccessShared:
		return "Shared"
	case AccessExclusive:
		return "Exclusive"
	case AccessWaitForExclusive:
		return "WaitForExclusive"
	default:
		return fmt.Sprintf("AccessMode(%d)", int(m))
	}
}

// ParseAccessMode accepts the names returned by String, case-insensitively.
func ParseAccessMode(s string) (AccessMode, error) {
	switch strings.ToLower(s) {
	case "shared", "":
		return AccessShared, nil
	case "exclusive":
		return AccessExclusive, nil
	case "waitforexclusive", "wait_for_exclusive":
		return AccessWaitForExclusive, nil
	default:
		return 0, fmt.Errorf("%w: unknown access mode %q", ErrInvalidRequest, s)
	}
}

// Connection is the slice of a client connection the topic controls.
type Connection interface {
	RemoteAddress() string

	// DisableReads stops reading publish requests from the socket.
	DisableReads()

	// EnableReads resumes reading publish requests.
	EnableReads()

	// CancelThrottlingState clears any per-connection throttle bookkeeping
	// before reads are enabled again.
	CancelThrottlingState()

	// CloseProducer tells the client its producer was closed by the broker.
	CloseProducer(p *Producer)
}

// ProducerConfig describes a producer requesting admission.
type ProducerConfig struct {
	// Name is the client-chosen name. Empty means the broker generates one.
	Name string

	// NameGenerated marks a Name the broker handed out earlier, as sent
	// back by a reconnecting client.
	NameGenerated bool

	// ID is the producer id, unique per connection.
	ID uint64

	// Epoch is the client's reconnect counter. A reconnecting producer
	// carries a higher Epoch than the one it replaces.
	Epoch uint64

	AccessMode AccessMode

	// TopicEpoch is the fencing epoch the producer last saw, if any.
	TopicEpoch *uint64

	Connection Connection

	// NamePrefix is prepended to generated names (usually the cluster).
	NamePrefix string
}

// Producer is a publisher attached, or asking to attach, to a topic.
type Producer struct {
	name             string
	id               uint64
	epoch            uint64
	accessMode       AccessMode
	topicEpoch       *uint64
	userProvidedName bool
	cnx              Connection
	createdAt        time.Time

	closed   atomic.Bool
	assigned atomic.Pointer[uint64]
}

// NewProducer builds a handle from config, generating a name when none was
// given.
func NewProducer(config ProducerConfig) *Producer {
	name := config.Name
	userProvided := name != "" && !config.NameGenerated
	if name == "" {
		name = GenerateProducerName(config.NamePrefix)
	}
	var carried *uint64
	if config.TopicEpoch != nil {
		e := *config.TopicEpoch
		carried = &e
	}
	return &Producer{
		name:             name,
		id:               config.ID,
		epoch:            config.Epoch,
		accessMode:       config.AccessMode,
		topicEpoch:       carried,
		userProvidedName: userProvided,
		cnx:              config.Connection,
		createdAt:        time.Now(),
	}
}

// GenerateProducerName returns "<prefix>-<uuid>", or a bare uuid without a
// prefix.
func GenerateProducerName(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

func (p *Producer) Name() string           { return p.name }
func (p *Producer) ID() uint64             { return p.id }
func (p *Producer) Epoch() uint64          { return p.epoch }
func (p *Producer) AccessMode() AccessMode { return p.accessMode }
func (p *Producer) Connection() Connection { return p.cnx }
func (p *Producer) IsClosed() bool         { return p.closed.Load() }

// TopicEpoch returns the carried fencing epoch.
func (p *Producer) TopicEpoch() (uint64, bool) {
	if p.topicEpoch == nil {
		return 0, false
	}
	return *p.topicEpoch, true
}

// IsUserProvidedName reports whether the client chose the name.
func (p *Producer) IsUserProvidedName() bool {
	return p.userProvidedName
}

// ClientAddress is the remote address of the producer's connection.
func (p *Producer) ClientAddress() string {
	if p.cnx == nil {
		return ""
	}
	return p.cnx.RemoteAddress()
}

// IsSuccessorTo reports whether p is a reconnect of other: same name, same
// producer id, same connection, and a strictly newer reconnect epoch.
func (p *Producer) IsSuccessorTo(other *Producer) bool {
	return other != nil &&
		p.name == other.name &&
		p.id == other.id &&
		p.cnx == other.cnx &&
		other.epoch < p.epoch
}

// AssignedEpoch is the topic epoch granted at admission, if any.
func (p *Producer) AssignedEpoch() (uint64, bool) {
	e := p.assigned.Load()
	if e == nil {
		return 0, false
	}
	return *e, true
}

func (p *Producer) setAssignedEpoch(epoch *uint64) {
	p.assigned.Store(epoch)
}

// close marks the producer closed and, unless graceful, notifies the
// client. Only the first call has any effect.
func (p *Producer) close(graceful bool) bool {
	if !p.closed.CompareAndSwap(false, true) {
		return false
	}
	if !graceful && p.cnx != nil {
		p.cnx.CloseProducer(p)
	}
	return true
}

// ProducerInfo is the stats view of a producer.
type ProducerInfo struct {
	Name          string    `json:"name" yaml:"name"`
	ID            uint64    `json:"id" yaml:"id"`
	AccessMode    string    `json:"accessMode" yaml:"access_mode"`
	ClientAddress string    `json:"clientAddress,omitempty" yaml:"client_address,omitempty"`
	TopicEpoch    *uint64   `json:"topicEpoch,omitempty" yaml:"topic_epoch,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt" yaml:"connected_at"`
}

func (p *Producer) Info() ProducerInfo {
	return ProducerInfo{
		Name:          p.name,
		ID:            p.id,
		AccessMode:    p.accessMode.String(),
		ClientAddress: p.ClientAddress(),
		TopicEpoch:    p.assigned.Load(),
		ConnectedAt:   p.createdAt,
	}
}
