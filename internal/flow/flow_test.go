package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isoflow/internal/loadspec"
)

func validParams() Params {
	return Params{
		Name:         MeasurementName,
		Role:         Measurement,
		ServerHost:   "srv",
		ClientHost:   "localhost",
		Destination:  "192.168.1.4",
		Protocol:     "udp",
		TrafficClass: "be",
		Duration:     10 * time.Second,
		Load:         loadspec.Default,
	}
}

func TestBuild(t *testing.T) {
	d, err := Build(validParams())
	require.NoError(t, err)
	assert.Equal(t, UDP, d.Protocol)
	assert.Equal(t, BestEffort, d.TrafficClass)
	assert.Equal(t, int64(60), d.Load.RatePerSecond)
	assert.Equal(t, "0x00", d.TOSArg())
}

func TestBuildInvalid(t *testing.T) {
	tests := map[string]func(p *Params){
		"no name":          func(p *Params) { p.Name = "" },
		"no server":        func(p *Params) { p.ServerHost = "" },
		"blank client":     func(p *Params) { p.ClientHost = "  " },
		"no destination":   func(p *Params) { p.Destination = "" },
		"zero duration":    func(p *Params) { p.Duration = 0 },
		"negative dur":     func(p *Params) { p.Duration = -time.Second },
		"bad class":        func(p *Params) { p.TrafficClass = "EF" },
		"bad protocol":     func(p *Params) { p.Protocol = "SCTP" },
		"negative report":  func(p *Params) { p.ReportInterval = -1 },
		"bandwidth isoch":  func(p *Params) { p.Load = "20M" },
		"malformed load":   func(p *Params) { p.Load = "0:18M" },
		"whitespace load ": func(p *Params) { p.Load = "60 :18M" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := validParams()
			mutate(&p)
			_, err := Build(p)
			assert.ErrorIs(t, err, ErrInvalidFlowConfig)
		})
	}
}

func TestBuildMalformedLoadKeepsKind(t *testing.T) {
	p := validParams()
	p.Load = "x:1"
	_, err := Build(p)
	assert.ErrorIs(t, err, ErrInvalidFlowConfig)
	assert.ErrorIs(t, err, loadspec.ErrMalformedLoadSpec)
}

func TestTrafficClasses(t *testing.T) {
	tests := []struct {
		token string
		want  TrafficClass
		tos   byte
	}{
		{"BE", BestEffort, 0x00},
		{"vi", Video, 0xA0},
		{"Vo", Voice, 0xD0},
		{"bk", Background, 0x20},
	}
	for _, tc := range tests {
		got, err := ParseTrafficClass(tc.token)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.tos, got.TOS())
		assert.Equal(t, tc.want, classTokens[got.Token()])
	}
}

func TestPlanMeasurementOnly(t *testing.T) {
	flows, err := Plan(PlanConfig{
		Duration:     10 * time.Second,
		Endpoints:    Endpoints{Server: "srv", Client: "localhost", Destination: "10.0.0.2"},
		Load:         loadspec.Default,
		TrafficClass: "BE",
	})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, MeasurementName, flows[0].Name)
	assert.Equal(t, UDP, flows[0].Protocol)
}

func TestPlanWithStress(t *testing.T) {
	cfg := PlanConfig{
		Duration:           10 * time.Second,
		Endpoints:          Endpoints{Server: "srv", Client: "localhost", Destination: "10.0.0.2"},
		Load:               loadspec.Default,
		TrafficClass:       "VI",
		Stress:             Endpoints{Server: "srv2", Client: "cli2", Destination: "10.0.0.3"},
		StressProtocol:     "TCP",
		StressLoad:         loadspec.DefaultStress,
		StressTrafficClass: "BE",
		StressUser:         "root",
	}
	flows, err := Plan(cfg)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, []string{MeasurementName, StressName}, []string{flows[0].Name, flows[1].Name})
	assert.Equal(t, TCP, flows[1].Protocol)
	assert.Equal(t, loadspec.Bandwidth, flows[1].Load.Kind)
	assert.Equal(t, flows[0].Duration, flows[1].Duration)
	assert.Equal(t, "root", flows[1].User)
	assert.NoError(t, Validate(flows))
}

func TestPlanPartialStressIsDisabled(t *testing.T) {
	partial := []Endpoints{
		{Server: "srv2", Client: "cli2"},
		{Server: "srv2", Destination: "10.0.0.3"},
		{Client: "cli2", Destination: "10.0.0.3"},
	}
	for _, st := range partial {
		flows, err := Plan(PlanConfig{
			Duration:       10 * time.Second,
			Endpoints:      Endpoints{Server: "srv", Client: "localhost", Destination: "10.0.0.2"},
			Load:           loadspec.Default,
			TrafficClass:   "BE",
			Stress:         st,
			StressProtocol: "bogus",
		})
		require.NoError(t, err)
		assert.Len(t, flows, 1)
	}
}

func TestPlanInvalidStressFails(t *testing.T) {
	_, err := Plan(PlanConfig{
		Duration:       10 * time.Second,
		Endpoints:      Endpoints{Server: "srv", Client: "localhost", Destination: "10.0.0.2"},
		Load:           loadspec.Default,
		TrafficClass:   "BE",
		Stress:         Endpoints{Server: "srv2", Client: "cli2", Destination: "10.0.0.3"},
		StressProtocol: "TCP",
		StressLoad:     "lots",
	})
	assert.ErrorIs(t, err, ErrInvalidFlowConfig)
}

func TestValidate(t *testing.T) {
	a, err := Build(validParams())
	require.NoError(t, err)
	b := a
	assert.ErrorIs(t, Validate([]Descriptor{a, b}), ErrInvalidFlowConfig)

	b.Name = "OTHER"
	b.Duration = time.Second
	assert.ErrorIs(t, Validate([]Descriptor{a, b}), ErrInvalidFlowConfig)
	assert.ErrorIs(t, Validate(nil), ErrInvalidFlowConfig)
}
