package flow

import (
	"fmt"
	"time"
)

const (
	MeasurementName = "ISOCH"
	StressName      = "STRESS"
)

// Endpoints names the hosts taking part in one flow.
type Endpoints struct {
	Server      string
	Client      string
	Destination string
}

// Complete reports whether all three endpoints are set.
func (e Endpoints) Complete() bool {
	return e.Server != "" && e.Client != "" && e.Destination != ""
}

// PlanConfig is the run-level configuration a plan is built from.
type PlanConfig struct {
	Duration       time.Duration
	ReportInterval time.Duration

	Endpoints    Endpoints
	Load         string
	TrafficClass string
	User         string

	Stress             Endpoints
	StressProtocol     string
	StressLoad         string
	StressTrafficClass string
	StressUser         string
}

// Plan builds the flows of one run: the isochronous UDP measurement flow
// always, and the stress flow only when all of its endpoints are given.
func Plan(cfg PlanConfig) ([]Descriptor, error) {
	isoch, err := Build(Params{
		Name:           MeasurementName,
		Role:           Measurement,
		ServerHost:     cfg.Endpoints.Server,
		ClientHost:     cfg.Endpoints.Client,
		Destination:    cfg.Endpoints.Destination,
		Protocol:       string(UDP),
		TrafficClass:   cfg.TrafficClass,
		Duration:       cfg.Duration,
		Load:           cfg.Load,
		ReportInterval: cfg.ReportInterval,
		User:           cfg.User,
	})
	if err != nil {
		return nil, err
	}
	flows := []Descriptor{isoch}

	if !cfg.Stress.Complete() {
		return flows, nil
	}

	stress, err := Build(Params{
		Name:           StressName,
		Role:           Stress,
		ServerHost:     cfg.Stress.Server,
		ClientHost:     cfg.Stress.Client,
		Destination:    cfg.Stress.Destination,
		Protocol:       cfg.StressProtocol,
		TrafficClass:   cfg.StressTrafficClass,
		Duration:       cfg.Duration,
		Load:           cfg.StressLoad,
		ReportInterval: cfg.ReportInterval,
		User:           cfg.StressUser,
	})
	if err != nil {
		return nil, err
	}
	return append(flows, stress), nil
}

// Validate checks the run-level invariants of a flow set: unique names and
// one shared duration.
func Validate(flows []Descriptor) error {
	if len(flows) == 0 {
		return fmt.Errorf("%w: no flows", ErrInvalidFlowConfig)
	}
	seen := make(map[string]bool, len(flows))
	for _, f := range flows {
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate flow name %q", ErrInvalidFlowConfig, f.Name)
		}
		seen[f.Name] = true
		if f.Duration != flows[0].Duration {
			return fmt.Errorf("%w: flow %s duration %s differs from %s", ErrInvalidFlowConfig, f.Name, f.Duration, flows[0].Duration)
		}
	}
	return nil
}
