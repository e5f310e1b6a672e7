package flow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"isoflow/internal/loadspec"
)

var ErrInvalidFlowConfig = errors.New("invalid flow config")

type Role int

const (
	Measurement Role = iota
	Stress
)

func (r Role) String() string {
	switch r {
	case Measurement:
		return "measurement"
	case Stress:
		return "stress"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

type Protocol string

const (
	UDP Protocol = "UDP"
	TCP Protocol = "TCP"
)

// ParseProtocol matches UDP or TCP case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(s) {
	case "UDP":
		return UDP, nil
	case "TCP":
		return TCP, nil
	}
	return "", fmt.Errorf("%w: unknown protocol %q", ErrInvalidFlowConfig, s)
}

type TrafficClass int

const (
	BestEffort TrafficClass = iota
	Video
	Voice
	Background
)

var classTokens = map[string]TrafficClass{
	"BE": BestEffort,
	"VI": Video,
	"VO": Voice,
	"BK": Background,
}

// ParseTrafficClass maps the access-class tokens BE, VI, VO and BK.
func ParseTrafficClass(s string) (TrafficClass, error) {
	if tc, ok := classTokens[strings.ToUpper(s)]; ok {
		return tc, nil
	}
	return 0, fmt.Errorf("%w: unknown traffic class %q (want BE, VI, VO or BK)", ErrInvalidFlowConfig, s)
}

// Token returns the short access-class name.
func (tc TrafficClass) Token() string {
	switch tc {
	case Video:
		return "VI"
	case Voice:
		return "VO"
	case Background:
		return "BK"
	}
	return "BE"
}

func (tc TrafficClass) String() string {
	switch tc {
	case Video:
		return "Video"
	case Voice:
		return "Voice"
	case Background:
		return "Background"
	}
	return "BestEffort"
}

// TOS is the IP type-of-service byte that selects the WMM access category.
func (tc TrafficClass) TOS() byte {
	switch tc {
	case Background:
		return 0x20
	case Video:
		return 0xA0
	case Voice:
		return 0xD0
	}
	return 0x00
}

// Descriptor is the validated configuration of one flow. It is a value type;
// copies handed to runners cannot affect the controller's view.
type Descriptor struct {
	Name           string
	Role           Role
	ServerHost     string
	ClientHost     string
	Destination    string
	Protocol       Protocol
	TrafficClass   TrafficClass
	Duration       time.Duration
	Load           loadspec.LoadSpec
	LoadText       string
	ReportInterval time.Duration
	User           string
}

// Params is the loosely typed input to Build, usually straight from flags.
type Params struct {
	Name           string
	Role           Role
	ServerHost     string
	ClientHost     string
	Destination    string
	Protocol       string
	TrafficClass   string
	Duration       time.Duration
	Load           string
	ReportInterval time.Duration
	User           string
}

// Build validates p and returns an immutable descriptor.
func Build(p Params) (Descriptor, error) {
	if p.Name == "" {
		return Descriptor{}, fmt.Errorf("%w: name is required", ErrInvalidFlowConfig)
	}
	for _, f := range []struct{ name, value string }{
		{"server", p.ServerHost},
		{"client", p.ClientHost},
		{"destination", p.Destination},
	} {
		if strings.TrimSpace(f.value) == "" {
			return Descriptor{}, fmt.Errorf("%w: flow %s: %s is required", ErrInvalidFlowConfig, p.Name, f.name)
		}
	}
	if p.Duration <= 0 {
		return Descriptor{}, fmt.Errorf("%w: flow %s: duration must be positive, got %s", ErrInvalidFlowConfig, p.Name, p.Duration)
	}
	if p.ReportInterval < 0 {
		return Descriptor{}, fmt.Errorf("%w: flow %s: report interval must not be negative", ErrInvalidFlowConfig, p.Name)
	}

	proto, err := ParseProtocol(p.Protocol)
	if err != nil {
		return Descriptor{}, fmt.Errorf("flow %s: %w", p.Name, err)
	}
	tc, err := ParseTrafficClass(p.TrafficClass)
	if err != nil {
		return Descriptor{}, fmt.Errorf("flow %s: %w", p.Name, err)
	}

	parse := loadspec.ParseOffered
	if p.Role == Measurement {
		parse = loadspec.Parse
	}
	load, err := parse(p.Load)
	if err != nil {
		return Descriptor{}, fmt.Errorf("flow %s: %w", p.Name, errors.Join(ErrInvalidFlowConfig, err))
	}

	return Descriptor{
		Name:           p.Name,
		Role:           p.Role,
		ServerHost:     p.ServerHost,
		ClientHost:     p.ClientHost,
		Destination:    p.Destination,
		Protocol:       proto,
		TrafficClass:   tc,
		Duration:       p.Duration,
		Load:           load,
		LoadText:       p.Load,
		ReportInterval: p.ReportInterval,
		User:           p.User,
	}, nil
}

// TOSArg renders the TOS byte the way the traffic tool expects it.
func (d Descriptor) TOSArg() string {
	return fmt.Sprintf("0x%02X", d.TrafficClass.TOS())
}
