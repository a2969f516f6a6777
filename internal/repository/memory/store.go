// Package memory is an in-memory clinical data store. It backs tests and fixture-driven
// evaluation runs and mirrors the filtering and ordering of the postgres repositories.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jwalitptl/epts-reports/internal/model"
	"github.com/jwalitptl/epts-reports/internal/repository"
	apperrors "github.com/jwalitptl/epts-reports/pkg/errors"
)

type Store struct {
	mu             sync.RWMutex
	patients       map[int]model.Patient
	observations   map[int]model.Observation
	encounters     map[int]model.Encounter
	voidedObs      map[int]struct{}
	voidedEnc      map[int]struct{}
	concepts       map[string]int
	encounterTypes map[string]int
}

var (
	_ repository.ClinicalDataRepository = (*Store)(nil)
	_ repository.PatientRepository      = (*Store)(nil)
	_ repository.MetadataRepository     = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		patients:       make(map[int]model.Patient),
		observations:   make(map[int]model.Observation),
		encounters:     make(map[int]model.Encounter),
		voidedObs:      make(map[int]struct{}),
		voidedEnc:      make(map[int]struct{}),
		concepts:       make(map[string]int),
		encounterTypes: make(map[string]int),
	}
}

func (s *Store) AddPatient(p model.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
}

func (s *Store) AddObservation(o model.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations[o.ID] = o
}

func (s *Store) AddEncounter(e model.Encounter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encounters[e.ID] = e
}

func (s *Store) VoidObservation(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voidedObs[id] = struct{}{}
}

func (s *Store) VoidEncounter(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voidedEnc[id] = struct{}{}
}

func (s *Store) AddConcept(uuid string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concepts[uuid] = id
}

func (s *Store) AddEncounterType(uuid string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encounterTypes[uuid] = id
}

// Fixture is the JSON layout accepted by LoadFixture.
type Fixture struct {
	Patients       []model.Patient     `json:"patients"`
	Observations   []model.Observation `json:"observations"`
	Encounters     []model.Encounter   `json:"encounters"`
	Concepts       map[string]int      `json:"concepts"`
	EncounterTypes map[string]int      `json:"encounter_types"`
}

// LoadFixture reads a JSON fixture into a new store.
func LoadFixture(r io.Reader) (*Store, error) {
	var f Fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}
	s := NewStore()
	for _, p := range f.Patients {
		p.Gender = model.ParseGender(string(p.Gender))
		s.AddPatient(p)
	}
	for _, o := range f.Observations {
		s.AddObservation(o)
	}
	for _, e := range f.Encounters {
		s.AddEncounter(e)
	}
	for uuid, id := range f.Concepts {
		s.AddConcept(uuid, id)
	}
	for uuid, id := range f.EncounterTypes {
		s.AddEncounterType(uuid, id)
	}
	return s, nil
}

func (s *Store) Observations(ctx context.Context, q repository.ObsQuery) (map[int][]model.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	cohort := toSet(q.Cohort)
	locations := toSet(q.Locations)
	types := make(map[int]struct{}, len(q.EncounterTypes))
	for _, t := range q.EncounterTypes {
		types[int(t)] = struct{}{}
	}

	matched := make(map[int][]model.Observation)
	for id, o := range s.observations {
		if _, voided := s.voidedObs[id]; voided || o.ConceptID != int(q.Concept) {
			continue
		}
		if _, ok := cohort[o.PersonID]; !ok {
			continue
		}
		if len(locations) > 0 && (o.LocationID == nil || !contains(locations, *o.LocationID)) {
			continue
		}
		if len(types) > 0 && !s.encounterOfType(o.EncounterID, types) {
			continue
		}
		if !withinBounds(o.ObsDatetime, q.OnOrAfter, q.OnOrBefore) {
			continue
		}
		matched[o.PersonID] = append(matched[o.PersonID], o)
	}

	for pid, list := range matched {
		sortObservations(list)
		switch q.Qualifier {
		case repository.First:
			matched[pid] = list[:1]
		case repository.Last:
			matched[pid] = []model.Observation{latest(list)}
		}
	}
	return matched, nil
}

func (s *Store) FirstEncounters(ctx context.Context, q repository.EncounterQuery) (map[int]model.Encounter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	cohort := toSet(q.Cohort)
	first := make(map[int]model.Encounter)
	for id, e := range s.encounters {
		if _, voided := s.voidedEnc[id]; voided || e.EncounterTypeID != int(q.EncounterType) {
			continue
		}
		if _, ok := cohort[e.PatientID]; !ok {
			continue
		}
		if e.LocationID == nil || *e.LocationID != q.Location {
			continue
		}
		if !withinBounds(e.EncounterDatetime, nil, q.OnOrBefore) {
			continue
		}
		if cur, ok := first[e.PatientID]; !ok || encounterBefore(e, cur) {
			first[e.PatientID] = e
		}
	}
	return first, nil
}

func (s *Store) Demographics(ctx context.Context, cohort []int) (map[int]model.Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int]model.Patient, len(cohort))
	for _, id := range cohort {
		if p, ok := s.patients[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CohortAtLocation(ctx context.Context, location int, onOrBefore time.Time) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int]struct{})
	for id, e := range s.encounters {
		if _, voided := s.voidedEnc[id]; voided {
			continue
		}
		if e.LocationID == nil || *e.LocationID != location || !withinBounds(e.EncounterDatetime, nil, &onOrBefore) {
			continue
		}
		if _, ok := s.patients[e.PatientID]; !ok {
			continue
		}
		seen[e.PatientID] = struct{}{}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *Store) ConceptIDByUUID(_ context.Context, uuid string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.concepts[uuid]; ok {
		return id, nil
	}
	return 0, apperrors.NotFound("concept "+uuid, nil)
}

func (s *Store) EncounterTypeIDByUUID(_ context.Context, uuid string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.encounterTypes[uuid]; ok {
		return id, nil
	}
	return 0, apperrors.NotFound("encounter type "+uuid, nil)
}

func (s *Store) encounterOfType(id *int, types map[int]struct{}) bool {
	if id == nil {
		return false
	}
	e, ok := s.encounters[*id]
	if !ok {
		return false
	}
	if _, voided := s.voidedEnc[*id]; voided {
		return false
	}
	_, ok = types[e.EncounterTypeID]
	return ok
}

// withinBounds applies SQL semantics: a NULL timestamp never satisfies a bound.
func withinBounds(t *time.Time, onOrAfter, onOrBefore *time.Time) bool {
	if onOrAfter == nil && onOrBefore == nil {
		return true
	}
	if t == nil {
		return false
	}
	if onOrAfter != nil && t.Before(*onOrAfter) {
		return false
	}
	if onOrBefore != nil && t.After(*onOrBefore) {
		return false
	}
	return true
}

// sortObservations orders by (obs_datetime, obs_id) with null datetimes last.
func sortObservations(list []model.Observation) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.ObsDatetime == nil && b.ObsDatetime == nil:
			return a.ID < b.ID
		case a.ObsDatetime == nil:
			return false
		case b.ObsDatetime == nil:
			return true
		case !a.ObsDatetime.Equal(*b.ObsDatetime):
			return a.ObsDatetime.Before(*b.ObsDatetime)
		default:
			return a.ID < b.ID
		}
	})
}

// latest picks the last dated observation of a sorted list, falling back to the highest id
// when no observation is dated.
func latest(sorted []model.Observation) model.Observation {
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].ObsDatetime != nil {
			return sorted[i]
		}
	}
	return sorted[len(sorted)-1]
}

func encounterBefore(a, b model.Encounter) bool {
	switch {
	case a.EncounterDatetime == nil:
		return b.EncounterDatetime == nil && a.ID < b.ID
	case b.EncounterDatetime == nil:
		return true
	case !a.EncounterDatetime.Equal(*b.EncounterDatetime):
		return a.EncounterDatetime.Before(*b.EncounterDatetime)
	default:
		return a.ID < b.ID
	}
}

func toSet(ids []int) map[int]struct{} {
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func contains(set map[int]struct{}, id int) bool {
	_, ok := set[id]
	return ok
}
