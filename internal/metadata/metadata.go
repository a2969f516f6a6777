// Package metadata holds the concept and encounter-type identifiers used by the HIV
// calculations. Identifiers are resolved once at startup and handed to the evaluators as
// typed tokens.
package metadata

import (
	"context"
	"fmt"
	"sort"
)

// Concept identifies a concept row.
type Concept int

// EncounterType identifies an encounter_type row.
type EncounterType int

// Reference points at a metadata row either by numeric id or by uuid. A uuid wins when both are set.
type Reference struct {
	ID   int    `mapstructure:"id" json:"id,omitempty"`
	UUID string `mapstructure:"uuid" json:"uuid,omitempty"`
}

func (r Reference) String() string {
	if r.UUID != "" {
		return "uuid=" + r.UUID
	}
	return fmt.Sprintf("id=%d", r.ID)
}

// Config lists the metadata entries the calculations need.
type Config struct {
	HivViralLoadConcept            Reference `mapstructure:"hiv_viral_load_concept"`
	RegimenConcept                 Reference `mapstructure:"regimen_concept"`
	ArvPlanConcept                 Reference `mapstructure:"arv_plan_concept"`
	StartDrugsConcept              Reference `mapstructure:"start_drugs_concept"`
	HistoricalDrugStartDateConcept Reference `mapstructure:"historical_drug_start_date_concept"`
	AdultFollowUpEncounterType     Reference `mapstructure:"adult_follow_up_encounter_type"`
	PediatricFollowUpEncounterType Reference `mapstructure:"pediatric_follow_up_encounter_type"`
	PharmacyEncounterType          Reference `mapstructure:"pharmacy_encounter_type"`
	LabEncounterType               Reference `mapstructure:"lab_encounter_type"`
	RegimenLineChangeCodes         []int     `mapstructure:"regimen_line_change_codes"`
}

// DefaultConfig returns the identifiers of a standard EPTS installation.
func DefaultConfig() Config {
	return Config{
		HivViralLoadConcept:            Reference{ID: 856},
		RegimenConcept:                 Reference{ID: 1088},
		ArvPlanConcept:                 Reference{ID: 1255},
		StartDrugsConcept:              Reference{ID: 1256},
		HistoricalDrugStartDateConcept: Reference{ID: 1190},
		AdultFollowUpEncounterType:     Reference{ID: 6},
		PediatricFollowUpEncounterType: Reference{ID: 9},
		PharmacyEncounterType:          Reference{ID: 18},
		LabEncounterType:               Reference{ID: 13},
		RegimenLineChangeCodes:         []int{6108, 1311, 1312, 1313, 1314, 1315, 6109, 6325, 6326, 6327, 6328},
	}
}

// Resolver looks up metadata ids by uuid.
type Resolver interface {
	ConceptIDByUUID(ctx context.Context, uuid string) (int, error)
	EncounterTypeIDByUUID(ctx context.Context, uuid string) (int, error)
}

// HivMetadata is the resolved, immutable registry.
type HivMetadata struct {
	HivViralLoad            Concept
	Regimen                 Concept
	ArvPlan                 Concept
	StartDrugs              Concept
	HistoricalDrugStartDate Concept

	AdultFollowUp     EncounterType
	PediatricFollowUp EncounterType
	Pharmacy          EncounterType
	Lab               EncounterType

	regimenLineChange map[Concept]struct{}
}

// Load resolves every entry of cfg. Entries without an id or uuid, or whose uuid cannot be
// resolved, are errors.
func Load(ctx context.Context, cfg Config, r Resolver) (*HivMetadata, error) {
	l := loader{ctx: ctx, r: r}
	m := &HivMetadata{
		HivViralLoad:            Concept(l.concept("hiv_viral_load_concept", cfg.HivViralLoadConcept)),
		Regimen:                 Concept(l.concept("regimen_concept", cfg.RegimenConcept)),
		ArvPlan:                 Concept(l.concept("arv_plan_concept", cfg.ArvPlanConcept)),
		StartDrugs:              Concept(l.concept("start_drugs_concept", cfg.StartDrugsConcept)),
		HistoricalDrugStartDate: Concept(l.concept("historical_drug_start_date_concept", cfg.HistoricalDrugStartDateConcept)),
		AdultFollowUp:           EncounterType(l.encounterType("adult_follow_up_encounter_type", cfg.AdultFollowUpEncounterType)),
		PediatricFollowUp:       EncounterType(l.encounterType("pediatric_follow_up_encounter_type", cfg.PediatricFollowUpEncounterType)),
		Pharmacy:                EncounterType(l.encounterType("pharmacy_encounter_type", cfg.PharmacyEncounterType)),
		Lab:                     EncounterType(l.encounterType("lab_encounter_type", cfg.LabEncounterType)),
		regimenLineChange:       make(map[Concept]struct{}, len(cfg.RegimenLineChangeCodes)),
	}
	if l.err != nil {
		return nil, l.err
	}
	if len(cfg.RegimenLineChangeCodes) == 0 {
		return nil, fmt.Errorf("metadata regimen_line_change_codes: empty")
	}
	for _, code := range cfg.RegimenLineChangeCodes {
		m.regimenLineChange[Concept(code)] = struct{}{}
	}
	return m, nil
}

// Default returns the registry for DefaultConfig without touching a database.
func Default() *HivMetadata {
	m, err := Load(context.Background(), DefaultConfig(), nil)
	if err != nil {
		panic(err)
	}
	return m
}

// IsRegimenLineChange reports whether a coded regimen answer marks a switch of treatment line.
func (m *HivMetadata) IsRegimenLineChange(code int) bool {
	_, ok := m.regimenLineChange[Concept(code)]
	return ok
}

// RegimenLineChangeCodes returns the allow-list in ascending order.
func (m *HivMetadata) RegimenLineChangeCodes() []int {
	codes := make([]int, 0, len(m.regimenLineChange))
	for c := range m.regimenLineChange {
		codes = append(codes, int(c))
	}
	sort.Ints(codes)
	return codes
}

type loader struct {
	ctx context.Context
	r   Resolver
	err error
}

func (l *loader) concept(name string, ref Reference) int {
	return l.resolve(name, ref, func(ctx context.Context, uuid string) (int, error) {
		return l.r.ConceptIDByUUID(ctx, uuid)
	})
}

func (l *loader) encounterType(name string, ref Reference) int {
	return l.resolve(name, ref, func(ctx context.Context, uuid string) (int, error) {
		return l.r.EncounterTypeIDByUUID(ctx, uuid)
	})
}

func (l *loader) resolve(name string, ref Reference, byUUID func(context.Context, string) (int, error)) int {
	if l.err != nil {
		return 0
	}
	switch {
	case ref.UUID == "" && ref.ID > 0:
		return ref.ID
	case ref.UUID == "":
		l.err = fmt.Errorf("metadata %s: neither id nor uuid configured", name)
		return 0
	case l.r == nil:
		l.err = fmt.Errorf("metadata %s: no resolver for %s", name, ref)
		return 0
	}
	id, err := byUUID(l.ctx, ref.UUID)
	if err != nil {
		l.err = fmt.Errorf("metadata %s (%s): %w", name, ref, err)
		return 0
	}
	return id
}
