// Package attributesync stores subscriber attributes locally and uploads
// the unsynced ones to the backend.
package attributesync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/entitlesync/engine/internal/domain/attribute"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"go.uber.org/zap"
)

// Synchronizer owns every read-modify-write of the attribute store. All of
// them run under one mutex; backend calls do not.
type Synchronizer struct {
	repo      attribute.Repository
	backend   purchase.AttributePoster
	identity  customer.Identity
	publisher shared.EventPublisher
	clock     shared.Clock
	logger    *zap.Logger

	mu sync.Mutex
}

// NewSynchronizer creates a new Synchronizer
func NewSynchronizer(
	repo attribute.Repository,
	backend purchase.AttributePoster,
	identity customer.Identity,
	publisher shared.EventPublisher,
	clock shared.Clock,
	logger *zap.Logger,
) *Synchronizer {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		repo:      repo,
		backend:   backend,
		identity:  identity,
		publisher: publisher,
		clock:     clock,
		logger:    logger.Named("attribute_sync"),
	}
}

// Set stores one attribute as unsynced. Setting the value it already has is a no-op.
func (s *Synchronizer) Set(ctx context.Context, appUserID, key, value string) error {
	return s.SetAttributes(ctx, appUserID, map[string]string{key: value})
}

// SetAttributes stores several attributes in one write
func (s *Synchronizer) SetAttributes(ctx context.Context, appUserID string, values map[string]string) error {
	for key := range values {
		if err := attribute.ValidateKey(key); err != nil {
			return fmt.Errorf("%w: %q", err, key)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, err := s.repo.Load(ctx, appUserID)
	if err != nil {
		return fmt.Errorf("failed to load subscriber attributes: %w", err)
	}
	if attrs == nil {
		attrs = make(attribute.Set)
	}

	now := s.clock.Now()
	changed := false
	for key, value := range values {
		if current, ok := attrs[key]; ok && current.Value == value {
			continue
		}
		attrs[key] = attribute.New(key, value, now)
		changed = true
	}
	if !changed {
		return nil
	}
	if err := s.repo.Save(ctx, appUserID, attrs); err != nil {
		return fmt.Errorf("failed to store subscriber attributes: %w", err)
	}
	return nil
}

// SetEmail sets the reserved $email attribute
func (s *Synchronizer) SetEmail(ctx context.Context, appUserID, email string) error {
	return s.Set(ctx, appUserID, attribute.KeyEmail, email)
}

// SetDisplayName sets the reserved $displayName attribute
func (s *Synchronizer) SetDisplayName(ctx context.Context, appUserID, name string) error {
	return s.Set(ctx, appUserID, attribute.KeyDisplayName, name)
}

// SetPhoneNumber sets the reserved $phoneNumber attribute
func (s *Synchronizer) SetPhoneNumber(ctx context.Context, appUserID, phone string) error {
	return s.Set(ctx, appUserID, attribute.KeyPhoneNumber, phone)
}

// SetPushToken sets the reserved push token attribute for the given platform key
func (s *Synchronizer) SetPushToken(ctx context.Context, appUserID, key, token string) error {
	if key != attribute.KeyFCMTokens && key != attribute.KeyAPNSTokens {
		return fmt.Errorf("%w: %q is not a push token key", attribute.ErrReservedKey, key)
	}
	return s.Set(ctx, appUserID, key, token)
}

// Attributes returns every stored attribute for the user
func (s *Synchronizer) Attributes(ctx context.Context, appUserID string) (attribute.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Load(ctx, appUserID)
}

// Unsynced returns the attributes the backend has not acknowledged yet
func (s *Synchronizer) Unsynced(ctx context.Context, appUserID string) (attribute.Set, error) {
	attrs, err := s.Attributes(ctx, appUserID)
	if err != nil {
		return nil, err
	}
	return attrs.Unsynced(), nil
}

// MarkSynced flags as synced each attribute in sent whose stored value still
// equals the value that was sent. A value set after the upload started stays unsynced.
func (s *Synchronizer) MarkSynced(ctx context.Context, appUserID string, sent attribute.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, err := s.repo.Load(ctx, appUserID)
	if err != nil {
		return fmt.Errorf("failed to load subscriber attributes: %w", err)
	}

	changed := false
	for key, was := range sent {
		current, ok := attrs[key]
		if !ok || current.IsSynced || current.Value != was.Value {
			continue
		}
		current.IsSynced = true
		attrs[key] = current
		changed = true
	}
	if !changed {
		return nil
	}
	if err := s.repo.Save(ctx, appUserID, attrs); err != nil {
		return fmt.Errorf("failed to store subscriber attributes: %w", err)
	}
	return nil
}

// Sync uploads the user's unsynced attributes. Attributes of a user other
// than the current one are deleted once everything is synced.
func (s *Synchronizer) Sync(ctx context.Context, appUserID string) error {
	unsynced, err := s.Unsynced(ctx, appUserID)
	if err != nil {
		return err
	}
	if len(unsynced) == 0 {
		return s.purgeIfForeign(ctx, appUserID)
	}

	log := s.logger.With(zap.String("app_user_id", appUserID))

	attrErrs, err := s.backend.PostSubscriberAttributes(ctx, appUserID, unsynced)
	if err != nil && !purchase.IsFinishable(err) {
		log.Warn("subscriber attribute upload failed", zap.Int("attributes", len(unsynced)), zap.Error(err))
		s.publish(ctx, attribute.NewSyncFailedEvent(appUserID, err, s.clock.Now()))
		return err
	}
	var be *purchase.BackendError
	if errors.As(err, &be) {
		attrErrs = append(attrErrs, be.AttributeErrors...)
	}
	if len(attrErrs) > 0 {
		log.Warn("backend rejected subscriber attributes", zap.Any("attribute_errors", attrErrs))
	}

	if err := s.MarkSynced(ctx, appUserID, unsynced); err != nil {
		return err
	}

	keys := make([]string, 0, len(unsynced))
	for k := range unsynced {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	log.Debug("subscriber attributes synced", zap.Strings("keys", keys))
	s.publish(ctx, attribute.NewSyncedEvent(appUserID, keys, attrErrs, s.clock.Now()))

	return s.purgeIfForeign(ctx, appUserID)
}

// SyncAll syncs every user with stored attributes, the current user last
func (s *Synchronizer) SyncAll(ctx context.Context) error {
	users, err := s.repo.Users(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users with attributes: %w", err)
	}

	current := s.identity.CurrentAppUserID()
	sort.SliceStable(users, func(i, j int) bool { return users[j] == current && users[i] != current })

	var errs []error
	for _, user := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.Sync(ctx, user); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", user, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Synchronizer) purgeIfForeign(ctx context.Context, appUserID string) error {
	if appUserID == s.identity.CurrentAppUserID() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, err := s.repo.Load(ctx, appUserID)
	if err != nil {
		return fmt.Errorf("failed to load subscriber attributes: %w", err)
	}
	if !attrs.AllSynced() {
		return nil
	}
	if err := s.repo.Delete(ctx, appUserID); err != nil {
		return fmt.Errorf("failed to delete subscriber attributes: %w", err)
	}
	s.logger.Debug("purged synced attributes of previous user", zap.String("app_user_id", appUserID))
	return nil
}

func (s *Synchronizer) publish(ctx context.Context, e shared.DomainEvent) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event_type", e.EventType()), zap.Error(err))
	}
}
