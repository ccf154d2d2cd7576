package services

import (
	"context"
	"errors"
	"log/slog"

	"clanhall/src/lib"
	"clanhall/src/models"
)

// FoundingQuorum is the number of signatures that turns a charter into a clan.
const FoundingQuorum = 3

var ErrNoQuorum = errors.New("charter needs more signatures")

// CharterState is the founding state of a charter.
type CharterState int

const (
	CharterCollecting CharterState = iota
	CharterQuorate
	CharterCommitted
	CharterRejected
)

func (s CharterState) String() string {
	switch s {
	case CharterCollecting:
		return "collecting"
	case CharterQuorate:
		return "quorate"
	case CharterCommitted:
		return "committed"
	case CharterRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Founding turns signed charters into clans.
type Founding struct {
	registry *Registry
	logger   *slog.Logger
}

func NewFounding(registry *Registry, logger *slog.Logger) *Founding {
	if logger == nil {
		logger = lib.NopLogger()
	}
	return &Founding{registry: registry, logger: logger}
}

// NewCharter starts a charter for name with founder as first signer and
// proposed leader.
func (f *Founding) NewCharter(name, founder string) (models.Charter, error) {
	code := NormalizeCode(name)
	if err := f.checkName(code); err != nil {
		return models.Charter{}, err
	}
	if f.registry.IsMember(founder) {
		return models.Charter{}, invalid(ErrIneligibleSigner, "%s is already in a clan", founder)
	}
	return models.Charter{Name: code, Signers: []string{founder}}, nil
}

// Sign adds signer to the charter. Once the signature brings the charter to
// quorum the clan is founded in the same call.
//
// The returned charter is the token to keep: on any error other than a
// rejection it is the charter as passed in, so the caller may retry.
func (f *Founding) Sign(ctx context.Context, charter models.Charter, signer string) (models.Charter, CharterState, error) {
	code := NormalizeCode(charter.Name)
	if err := f.checkName(code); err != nil {
		return charter, CharterRejected, err
	}
	if charter.HasSigner(signer) {
		return charter, stateOf(charter), invalid(ErrAlreadySigned, "%s", signer)
	}
	if f.registry.IsMember(signer) {
		return charter, stateOf(charter), invalid(ErrIneligibleSigner, "%s is already in a clan", signer)
	}

	next := charter.WithSigner(signer)
	next.Name = code
	if len(next.Signers) < FoundingQuorum {
		return next, CharterCollecting, nil
	}

	if err := f.commit(ctx, next); err != nil {
		if errors.Is(err, ErrClanExists) || errors.Is(err, ErrInvalidCode) {
			return charter, CharterRejected, err
		}
		return charter, stateOf(charter), err
	}
	return next, CharterCommitted, nil
}

// Complete founds the clan from a charter that already holds a quorum. Only
// the proposed leader may complete it.
func (f *Founding) Complete(ctx context.Context, charter models.Charter, actor string) (CharterState, error) {
	if actor == "" || actor != charter.Leader() {
		return stateOf(charter), invalid(ErrNotLeader, "%s did not propose this charter", actor)
	}
	charter.Name = NormalizeCode(charter.Name)
	if err := f.checkName(charter.Name); err != nil {
		return CharterRejected, err
	}
	if len(charter.Signers) < FoundingQuorum {
		return CharterCollecting, invalid(ErrNoQuorum, "%d of %d", len(charter.Signers), FoundingQuorum)
	}
	if err := f.commit(ctx, charter); err != nil {
		if errors.Is(err, ErrClanExists) {
			return CharterRejected, err
		}
		return CharterQuorate, err
	}
	return CharterCommitted, nil
}

func (f *Founding) checkName(code string) error {
	if !IsValidCode(code) {
		return invalid(ErrInvalidCode, "'%s' is not a valid clan tag", code)
	}
	if f.registry.Exists(code) {
		return invalid(ErrClanExists, "a clan named '%s' already exists", code)
	}
	return nil
}

func (f *Founding) commit(ctx context.Context, charter models.Charter) error {
	for _, identity := range charter.Signers {
		if f.registry.IsMember(identity) {
			return invalid(ErrIneligibleSigner, "%s is already in a clan", identity)
		}
	}
	if err := f.registry.Found(ctx, charter.Name, charter.Signers); err != nil {
		f.logger.Warn("charter commit failed", "clan", charter.Name, "error", err)
		return err
	}
	f.registry.SendToClan(charter.Name, "Your clan has been formed!")
	return nil
}

func stateOf(charter models.Charter) CharterState {
	if len(charter.Signers) >= FoundingQuorum {
		return CharterQuorate
	}
	return CharterCollecting
}
