package authorization

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/authorized-scheduling/internal/db"
)

// Service exposes the ledger as public operations. Each call runs as
// one serializable transaction via the runner, so the precondition
// check inside the ledger sees the committed state it will write over.
type Service struct {
	ledger *Ledger
	repo   Repository
	runner db.Runner
	log    zerolog.Logger
}

func NewService(ledger *Ledger, repo Repository, runner db.Runner, log zerolog.Logger) *Service {
	return &Service{
		ledger: ledger,
		repo:   repo,
		runner: runner,
		log:    log,
	}
}

func (s *Service) ReserveUnits(ctx context.Context, id uuid.UUID, amount int, actor string) (*Authorization, error) {
	var out *Authorization

	err := s.runner.InTx(ctx, func(txCtx context.Context) error {
		a, err := s.ledger.Reserve(txCtx, id, amount, actor)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Stringer("authorization_id", id).
		Int("amount", amount).
		Str("actor", actor).
		Msg("units reserved")

	return out, nil
}

func (s *Service) ConsumeUnits(ctx context.Context, id uuid.UUID, amount int, actor string) (*Authorization, error) {
	var out *Authorization

	err := s.runner.InTx(ctx, func(txCtx context.Context) error {
		a, err := s.ledger.Consume(txCtx, id, amount, actor)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Stringer("authorization_id", id).
		Int("amount", amount).
		Str("actor", actor).
		Msg("units consumed")

	return out, nil
}

func (s *Service) GetAuthorization(ctx context.Context, id uuid.UUID) (*Authorization, error) {
	return s.repo.GetByID(ctx, id)
}
