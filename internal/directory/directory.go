// Package directory is the read-only patient roster: identity, risk category,
// default settings and the vitals record shown to clinicians.
package directory

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/carebridge/internal/triage"
)

//go:embed roster.json
var rosterJSON []byte

// Details is a patient's vitals and lifestyle record.
type Details struct {
	Age             int     `json:"age"`
	Role            string  `json:"role"`
	BloodPressure   string  `json:"bloodPressure"`
	HeartRate       int     `json:"heartRate"`
	TemperatureF    float64 `json:"temperatureF"`
	SpO2Percent     int     `json:"spo2Percent"`
	WeightKg        float64 `json:"weightKg"`
	ActivityLevel   string  `json:"activityLevel"`
	StressIndex     string  `json:"stressIndex"`
	AvgSleep        string  `json:"avgSleep"`
	DietaryNote     string  `json:"dietaryNote"`
	CycleStatus     string  `json:"cycleStatus"`
	ActiveComplaint string  `json:"activeComplaint"`
	RiskScore       string  `json:"riskScore"`
}

// Entry is one roster row.
type Entry struct {
	ID           string  `json:"id"`
	Alias        string  `json:"alias,omitempty"`
	Name         string  `json:"name"`
	CaseType     string  `json:"caseType"`
	Symptoms     string  `json:"symptoms"`
	PartnerAlert bool    `json:"partnerAlert,omitempty"`
	Details      Details `json:"details"`
}

func (e Entry) patient() *triage.Patient {
	return &triage.Patient{
		ID:       e.ID,
		Name:     e.Name,
		Category: triage.ParseRiskCategory(e.CaseType),
		Settings: triage.Settings{PartnerAlert: e.PartnerAlert},
	}
}

// Directory looks patients up by id or alias. It implements triage.Directory.
type Directory struct {
	entries []Entry
	byKey   map[string]int
}

// New builds a directory from entries. Ids and aliases must be unique.
func New(entries []Entry) (*Directory, error) {
	d := &Directory{
		entries: make([]Entry, len(entries)),
		byKey:   make(map[string]int, 2*len(entries)),
	}
	copy(d.entries, entries)

	for i, e := range d.entries {
		if strings.TrimSpace(e.ID) == "" {
			return nil, fmt.Errorf("roster entry %d: id is required", i)
		}
		for _, k := range []string{e.ID, e.Alias} {
			if k == "" {
				continue
			}
			if _, dup := d.byKey[k]; dup {
				return nil, fmt.Errorf("roster entry %d: duplicate key %q", i, k)
			}
			d.byKey[k] = i
		}
	}
	return d, nil
}

// Default returns the built-in demo roster.
func Default() *Directory {
	var entries []Entry
	if err := json.Unmarshal(rosterJSON, &entries); err != nil {
		panic(fmt.Sprintf("directory: embedded roster: %v", err))
	}
	d, err := New(entries)
	if err != nil {
		panic(fmt.Sprintf("directory: embedded roster: %v", err))
	}
	return d
}

func (d *Directory) lookup(id string) (Entry, bool) {
	i, ok := d.byKey[strings.TrimSpace(id)]
	if !ok {
		return Entry{}, false
	}
	return d.entries[i], true
}

// GetPatient resolves id or alias to the canonical patient record with roster
// default settings.
func (d *Directory) GetPatient(_ context.Context, id string) (*triage.Patient, bool, error) {
	e, ok := d.lookup(id)
	if !ok {
		return nil, false, nil
	}
	return e.patient(), true, nil
}

// GetPatientDetails returns the vitals record for id or alias.
func (d *Directory) GetPatientDetails(_ context.Context, id string) (*Details, bool, error) {
	e, ok := d.lookup(id)
	if !ok {
		return nil, false, nil
	}
	det := e.Details
	return &det, true, nil
}

// ListPatients returns the roster in declaration order.
func (d *Directory) ListPatients(context.Context) ([]*triage.Patient, error) {
	out := make([]*triage.Patient, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.patient())
	}
	return out, nil
}

var _ triage.Directory = (*Directory)(nil)
