package providerevent

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/directory"
	"github.com/carelink/carelink/internal/platform/db"
)

// TenantTxRunner opens tenant-scoped transactions. Satisfied by *db.Gateway.
type TenantTxRunner interface {
	WithTenantTx(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID, fn func(ctx context.Context) error) error
}

// Observer counts webhook processing outcomes. Nil-safe via nopObserver.
type Observer interface {
	ObserveWebhook(objectType, action, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveWebhook(string, string, string) {}

type Service struct {
	tx          TenantTxRunner
	users       directory.UserRepository
	orgs        directory.OrganizationRepository
	memberships directory.MembershipRepository
	invitations directory.InvitationRepository
	ledger      directory.EventLedger
	logger      zerolog.Logger
	metrics     Observer
}

func NewService(
	tx TenantTxRunner,
	users directory.UserRepository,
	orgs directory.OrganizationRepository,
	memberships directory.MembershipRepository,
	invitations directory.InvitationRepository,
	ledger directory.EventLedger,
	logger zerolog.Logger,
	metrics Observer,
) *Service {
	if metrics == nil {
		metrics = nopObserver{}
	}
	return &Service{
		tx:          tx,
		users:       users,
		orgs:        orgs,
		memberships: memberships,
		invitations: invitations,
		ledger:      ledger,
		logger:      logger,
		metrics:     metrics,
	}
}

// Process applies a validated event exactly once. The ledger is checked
// before and recorded after the effects, so a crash mid-processing causes a
// safe reprocess on redelivery rather than a silent loss.
func (s *Service) Process(ctx context.Context, ev *Event) error {
	seen, err := s.ledger.Seen(ctx, ev.EventID)
	if err != nil {
		return err
	}
	if seen {
		s.logger.Debug().Str("event_id", ev.EventID).Msg("webhook event already processed")
		s.metrics.ObserveWebhook(string(ev.ObjectType), string(ev.Action), "duplicate")
		return nil
	}

	switch ev.ObjectType {
	case ObjectMember:
		err = s.processMember(ctx, ev)
	case ObjectOrganization:
		err = s.processOrganization(ctx, ev)
	}
	if err != nil {
		s.metrics.ObserveWebhook(string(ev.ObjectType), string(ev.Action), "error")
		return err
	}

	if err := s.ledger.Record(ctx, ev.EventID, string(ev.ObjectType)+"."+string(ev.Action)); err != nil {
		return err
	}
	s.metrics.ObserveWebhook(string(ev.ObjectType), string(ev.Action), "ok")
	return nil
}

func (s *Service) processMember(ctx context.Context, ev *Event) error {
	org, err := s.orgs.GetByProviderID(ctx, ev.Member.OrganizationID)
	if err != nil {
		if db.IsNoRows(err) {
			// Events for unprovisioned orgs are acknowledged, not retried
			// forever by the provider.
			s.logger.Warn().Str("event_id", ev.EventID).
				Str("provider_org_id", ev.Member.OrganizationID).
				Msg("webhook event for unknown organization, skipping")
			return nil
		}
		return err
	}

	return s.tx.WithTenantTx(ctx, org.ID, nil, func(ctx context.Context) error {
		switch ev.Action {
		case ActionCreate:
			// Interactive verification may have consumed the invitation
			// already; absence of a pending match is not an error.
			if ev.Member.EmailAddress == "" {
				return nil
			}
			claimed, err := s.invitations.ConsumePendingByOrgEmail(ctx, org.ID,
				directory.NormalizeEmail(ev.Member.EmailAddress))
			if err != nil {
				return err
			}
			if claimed {
				s.logger.Info().Str("event_id", ev.EventID).
					Str("org_id", org.ID.String()).
					Msg("invitation accepted via webhook")
			}
			return nil

		case ActionUpdate:
			m, err := s.memberships.GetByProviderMemberID(ctx, ev.Member.MemberID)
			if err != nil {
				if db.IsNoRows(err) {
					return nil
				}
				return err
			}
			if ev.Member.EmailAddress != "" {
				if err := s.users.SetEmail(ctx, m.UserID, ev.Member.EmailAddress); err != nil {
					return err
				}
			}
			return s.memberships.SetProviderMemberID(ctx, m.OrgID, m.UserID, ev.Member.MemberID)

		case ActionDelete:
			m, err := s.memberships.GetByProviderMemberID(ctx, ev.Member.MemberID)
			if err != nil {
				if db.IsNoRows(err) {
					return nil
				}
				return err
			}
			// Memberships are soft-deactivated, never deleted.
			return s.memberships.SetStatus(ctx, m.OrgID, m.UserID, directory.MembershipInactive)
		}
		return nil
	})
}

func (s *Service) processOrganization(ctx context.Context, ev *Event) error {
	if ev.Action != ActionUpdate {
		return nil
	}
	org, err := s.orgs.GetByProviderID(ctx, ev.Org.OrganizationID)
	if err != nil {
		if db.IsNoRows(err) {
			s.logger.Warn().Str("event_id", ev.EventID).
				Str("provider_org_id", ev.Org.OrganizationID).
				Msg("webhook event for unknown organization, skipping")
			return nil
		}
		return err
	}
	if ev.Org.OrganizationName == "" || ev.Org.OrganizationName == org.Name {
		return nil
	}
	return s.tx.WithTenantTx(ctx, org.ID, nil, func(ctx context.Context) error {
		return s.orgs.UpdateName(ctx, org.ID, ev.Org.OrganizationName)
	})
}
