// Package sdk is the embeddable Photon client SDK. Host applications
// (provider portal, patient app, admin console) construct one SDK per
// organization binding, authenticate users against the identity provider
// and access clinical data through a consistency-aware read/write layer
// that hides the backend's write/read propagation lag.
package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
)

// SDK ties the session lifecycle manager and the data access layer
// together. It is safe for concurrent use; independent instances share
// nothing, so one process can host several sessions (useful for tests and
// multi-organization admin tooling).
type SDK struct {
	cfg         Config
	session     *SessionManager
	store       *Store
	coordinator *Coordinator
	logger      *slog.Logger
}

// New constructs an SDK instance, performs provider discovery when no
// custom IdentityProvider is supplied, runs the one-time initialize step
// and starts the background session refresher. Close releases everything.
func New(ctx context.Context, cfg Config, optFns ...Option) (*SDK, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	provider := opts.Provider
	if provider == nil {
		var err error
		provider, err = newOIDCProvider(ctx, cfg, opts.HTTPClient, opts.Logger)
		if err != nil {
			return nil, err
		}
	}

	decoder := NewClaimsDecoder(cfg.TenantClaim, cfg.PermissionsClaim)
	session := newSessionManager(cfg, provider, decoder, opts.CredentialStore, opts.Clock, opts.Logger)
	transport := newTransport(cfg.Endpoint, cfg.TokenType, opts.HTTPClient, session, opts.Logger)
	store := newStore(transport, opts.Logger)
	coordinator := newCoordinator(transport, store, cfg.RefetchDelay, opts.Clock, opts.Logger)

	session.onLogout = store.Clear

	s := &SDK{
		cfg:         cfg,
		session:     session,
		store:       store,
		coordinator: coordinator,
		logger:      opts.Logger,
	}

	session.Initialize(ctx)
	session.StartRefresh()
	return s, nil
}

// Session exposes the session lifecycle manager.
func (s *SDK) Session() *SessionManager { return s.session }

// Store exposes the raw data store for accessors the typed surface does
// not cover.
func (s *SDK) Store() *Store { return s.store }

// Close tears the instance down: the refresh ticker stops and pending
// refetch timers are cancelled. No timer fires after Close returns.
func (s *SDK) Close() error {
	s.coordinator.Close()
	s.session.Close()
	return nil
}

// --- Typed read accessors ---

// GetPatient reads one patient, served from cache after the first fetch.
func (s *SDK) GetPatient(ctx context.Context, id string) (*Patient, error) {
	data, err := s.store.Query(ctx, opGetPatient, map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	return decodeInto[Patient](data, opGetPatient)
}

// GetCatalog reads the organization's treatment catalog.
func (s *SDK) GetCatalog(ctx context.Context) ([]CatalogItem, error) {
	data, err := s.store.Query(ctx, opGetCatalog, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeInto[[]CatalogItem](data, opGetCatalog)
	if err != nil {
		return nil, err
	}
	return *items, nil
}

// SearchPatientsInput drives the live patient search.
type SearchPatientsInput struct {
	Name   string `json:"name,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`

	// Append accumulates this page onto the previous result (infinite
	// scroll); Clear replaces the accumulated set for a fresh search.
	Append bool `json:"-"`
	Clear  bool `json:"-"`
}

// SearchPatients performs a patient lookup. All searches share one logical
// cache entry, so a rapidly retyped filter races by request epoch and only
// the most recent response commits.
func (s *SDK) SearchPatients(ctx context.Context, input SearchPatientsInput) ([]Patient, error) {
	raws, err := s.store.QueryList(ctx, opSearchPatients, nil, input, ListOptions{Append: input.Append, Clear: input.Clear})
	if err != nil {
		return nil, err
	}
	return decodeList[Patient](raws, opSearchPatients)
}

// ListPrescriptionsInput drives the prescription list for one patient.
type ListPrescriptionsInput struct {
	PatientID string `json:"patientId"`
	Offset    int    `json:"offset,omitempty"`
	Limit     int    `json:"limit,omitempty"`

	Append bool `json:"-"`
	Clear  bool `json:"-"`
}

// ListPrescriptions reads a patient's prescriptions. The cache key is the
// patient, so pagination accumulates per patient and mutation refetches
// target PrescriptionsKey(patientID).
func (s *SDK) ListPrescriptions(ctx context.Context, input ListPrescriptionsInput) ([]Prescription, error) {
	keyVars := map[string]string{"patientId": input.PatientID}
	raws, err := s.store.QueryList(ctx, opListPrescriptions, keyVars, input, ListOptions{Append: input.Append, Clear: input.Clear})
	if err != nil {
		return nil, err
	}
	return decodeList[Prescription](raws, opListPrescriptions)
}

// PrescriptionsKey is the cache key for a patient's prescription list,
// used as an affected-query key by mutations.
func PrescriptionsKey(patientID string) string {
	return QueryKey(opListPrescriptions, map[string]string{"patientId": patientID})
}

// PatientKey is the cache key for a single patient record.
func PatientKey(id string) string {
	return QueryKey(opGetPatient, map[string]string{"id": id})
}

// --- Typed write accessors ---

// requireSession gates writes: reads degrade gracefully on the backend's
// authorization, but issuing a mutation without a session is a caller bug.
func (s *SDK) requireSession() error {
	if !s.session.Snapshot().Authenticated {
		return ErrNotAuthenticated
	}
	return nil
}

// CreatePrescription writes a prescription and schedules a delayed re-read
// of the patient's prescription list once the write path has had time to
// propagate to the read store.
func (s *SDK) CreatePrescription(ctx context.Context, input PrescriptionInput) (*Prescription, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	result, err := s.coordinator.ExecuteMutation(ctx, opCreatePrescription, input, []string{
		PrescriptionsKey(input.PatientID),
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[Prescription](result.Data, opCreatePrescription)
}

// UpdatePatient writes patient demographics and schedules re-reads of the
// patient record and any search results.
func (s *SDK) UpdatePatient(ctx context.Context, patient Patient) (*Patient, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	result, err := s.coordinator.ExecuteMutation(ctx, opUpdatePatient, patient, []string{
		PatientKey(patient.ID),
		QueryKey(opSearchPatients, nil),
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[Patient](result.Data, opUpdatePatient)
}

// ExecuteMutation runs an arbitrary write through the consistency
// coordinator for operations the typed surface does not cover.
func (s *SDK) ExecuteMutation(ctx context.Context, operation string, variables any, affectedKeys []string) (*MutationResult, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	return s.coordinator.ExecuteMutation(ctx, operation, variables, affectedKeys)
}

func decodeInto[T any](data json.RawMessage, operation string) (*T, error) {
	if data == nil {
		return nil, fmt.Errorf("%s returned no data", operation)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", operation, err)
	}
	return &out, nil
}

func decodeList[T any](raws []json.RawMessage, operation string) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode %s item: %w", operation, err)
		}
		out = append(out, item)
	}
	return out, nil
}
