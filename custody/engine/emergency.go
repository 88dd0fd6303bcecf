package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/openvault/custody-engine/custody"
	"github.com/openvault/custody-engine/custody/events"
	"github.com/openvault/custody-engine/custody/log"
	"github.com/openvault/custody-engine/custody/store"
)

// EmergencyState reports the kill-switch flag and, when tripped, the
// guardian that raised it.
type EmergencyState struct {
	Active    bool   `json:"active"`
	Initiator string `json:"initiator,omitempty"`
}

// EmergencyShutdown trips the global kill switch. The caller must be an
// authenticated, active guardian. The flag is irreversible in scope: no
// operation clears it.
func (s *Service) EmergencyShutdown(ctx context.Context, guardianAddress string) error {
	ctx, span := s.tracer.Start(ctx, "engine.emergency_shutdown")
	defer span.End()

	if err := s.auth.RequireAuth(ctx, guardianAddress); err != nil {
		return custody.NewDomainError(custody.ErrorUnauthorized, "guardian", "caller has not proven control of the guardian address")
	}

	event, err := s.emergencyShutdown(ctx, guardianAddress)
	if err != nil {
		return err
	}

	// Published after the mutex is released, so broker confirmation cannot
	// stall other engine operations.
	s.publish(ctx, event)

	return nil
}

func (s *Service) emergencyShutdown(ctx context.Context, guardianAddress string) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInitialized(ctx); err != nil {
		return events.Event{}, err
	}

	g, err := s.registry.Lookup(ctx, guardianAddress)
	if err != nil {
		return events.Event{}, err
	}

	if !g.IsActive {
		return events.Event{}, custody.NewDomainError(custody.ErrorGuardianInactive, "guardian", "guardian is not active")
	}

	now := s.clock.Now()

	err = s.store.Apply(ctx,
		jsonEntry(store.KeyEmergencyMode, true),
		jsonEntry(store.KeyEmergencyInitiator, guardianAddress),
	)
	if err != nil {
		return events.Event{}, err
	}

	s.logger.Log(ctx, log.LevelWarn, "emergency shutdown activated",
		log.String("guardian", guardianAddress),
	)

	event := events.Event{
		Type:       events.TypeEmergencyActivated,
		Initiator:  guardianAddress,
		OccurredAt: now,
	}

	return event, nil
}

// EmergencyMode returns the kill-switch state. Never gated by the flag itself.
func (s *Service) EmergencyMode(ctx context.Context) (EmergencyState, error) {
	tripped, err := s.emergencyTripped(ctx)
	if err != nil {
		return EmergencyState{}, err
	}

	if !tripped {
		return EmergencyState{}, nil
	}

	state := EmergencyState{Active: true}

	raw, err := s.store.Get(ctx, store.KeyEmergencyInitiator)
	if errors.Is(err, store.ErrKeyNotFound) {
		return state, nil
	}

	if err != nil {
		return EmergencyState{}, err
	}

	if err := json.Unmarshal(raw, &state.Initiator); err != nil {
		return EmergencyState{}, custody.NewDomainError(custody.ErrorDataCorruption, "emergency", "cannot decode emergency initiator")
	}

	return state, nil
}

func (s *Service) emergencyTripped(ctx context.Context) (bool, error) {
	raw, err := s.store.Get(ctx, store.KeyEmergencyMode)
	if errors.Is(err, store.ErrKeyNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	var tripped bool
	if err := json.Unmarshal(raw, &tripped); err != nil {
		return false, custody.NewDomainError(custody.ErrorDataCorruption, "emergency", "cannot decode emergency flag")
	}

	return tripped, nil
}
