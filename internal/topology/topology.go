/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package topology describes which switch interfaces are shaped and which
// hosts are used for measurement.
package topology

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/gclsync/internal/models"
	"github.com/friendsincode/gclsync/internal/taprio"
)

var (
	// ErrUnknownTarget indicates a switch ID that is not in the topology.
	ErrUnknownTarget = errors.New("unknown switch target")

	// ErrUnknownHost indicates a host ID that is not in the topology.
	ErrUnknownHost = errors.New("unknown host")

	// ErrInvalidTopology indicates a topology document that fails validation.
	ErrInvalidTopology = errors.New("invalid topology")
)

// Provider supplies switch targets and probe hosts.
type Provider interface {
	Target(id string) (models.SwitchTarget, error)
	Targets() []models.SwitchTarget
	Host(id string) (models.Host, error)
	Interfaces() []string
}

// ProbePair names the hosts used for latency measurement.
type ProbePair struct {
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
	Count  int    `yaml:"count,omitempty" json:"count,omitempty"`
}

// Document is the on-disk topology format.
type Document struct {
	Targets []models.SwitchTarget `yaml:"targets"`
	Hosts   []models.Host         `yaml:"hosts"`
	Probe   ProbePair             `yaml:"probe"`
	Shaping taprio.Options        `yaml:"shaping,omitempty"`
}

// Static is an immutable Provider built from a Document.
type Static struct {
	doc     Document
	targets map[string]models.SwitchTarget
	hosts   map[string]models.Host
}

// Default returns the two-switch line topology: h1 and h2 on s1, h3 on s2,
// with s1 shaping ens160 and s2 shaping ens192.
func Default() *Static {
	s, err := New(Document{
		Targets: []models.SwitchTarget{
			{ID: "s1", Interface: "ens160"},
			{ID: "s2", Interface: "ens192"},
		},
		Hosts: []models.Host{
			{ID: "h1", Address: "10.0.0.1", Namespace: "h1"},
			{ID: "h2", Address: "10.0.0.2", Namespace: "h2"},
			{ID: "h3", Address: "10.0.0.3", Namespace: "h3"},
		},
		Probe: ProbePair{Source: "h1", Target: "h3", Count: 5},
	})
	if err != nil {
		panic(err)
	}
	return s
}

// LoadFile reads and validates a YAML topology file.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML topology document.
func Parse(data []byte) (*Static, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTopology, err)
	}
	return New(doc)
}

// New validates doc and builds a provider from it.
func New(doc Document) (*Static, error) {
	if len(doc.Targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", ErrInvalidTopology)
	}
	s := &Static{
		doc:     doc,
		targets: make(map[string]models.SwitchTarget, len(doc.Targets)),
		hosts:   make(map[string]models.Host, len(doc.Hosts)),
	}
	for _, t := range doc.Targets {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" || strings.TrimSpace(t.Interface) == "" {
			return nil, fmt.Errorf("%w: target needs id and interface", ErrInvalidTopology)
		}
		if _, dup := s.targets[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate target %q", ErrInvalidTopology, t.ID)
		}
		s.targets[t.ID] = t
	}
	for _, h := range doc.Hosts {
		if h.ID == "" || h.Address == "" {
			return nil, fmt.Errorf("%w: host needs id and address", ErrInvalidTopology)
		}
		if _, dup := s.hosts[h.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate host %q", ErrInvalidTopology, h.ID)
		}
		s.hosts[h.ID] = h
	}
	if doc.Probe.Source != "" || doc.Probe.Target != "" {
		for _, id := range []string{doc.Probe.Source, doc.Probe.Target} {
			if _, ok := s.hosts[id]; !ok {
				return nil, fmt.Errorf("%w: probe host %q not defined", ErrInvalidTopology, id)
			}
		}
	}
	if doc.Probe.Count < 0 {
		return nil, fmt.Errorf("%w: probe count %d", ErrInvalidTopology, doc.Probe.Count)
	}
	return s, nil
}

// Target implements Provider.
func (s *Static) Target(id string) (models.SwitchTarget, error) {
	t, ok := s.targets[id]
	if !ok {
		return models.SwitchTarget{}, fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	return t, nil
}

// Targets implements Provider. Order follows the document.
func (s *Static) Targets() []models.SwitchTarget {
	out := make([]models.SwitchTarget, 0, len(s.doc.Targets))
	for _, t := range s.doc.Targets {
		out = append(out, s.targets[strings.TrimSpace(t.ID)])
	}
	return out
}

// Host implements Provider.
func (s *Static) Host(id string) (models.Host, error) {
	h, ok := s.hosts[id]
	if !ok {
		return models.Host{}, fmt.Errorf("%w: %s", ErrUnknownHost, id)
	}
	return h, nil
}

// Interfaces implements Provider.
func (s *Static) Interfaces() []string {
	out := make([]string, 0, len(s.doc.Targets))
	for _, t := range s.Targets() {
		out = append(out, t.Interface)
	}
	return out
}

// Probe returns the configured measurement pair.
func (s *Static) Probe() ProbePair {
	return s.doc.Probe
}

// ProbeHosts resolves the measurement pair. ok is false when no pair is set.
func (s *Static) ProbeHosts() (source, target models.Host, ok bool) {
	if s.doc.Probe.Source == "" {
		return models.Host{}, models.Host{}, false
	}
	return s.hosts[s.doc.Probe.Source], s.hosts[s.doc.Probe.Target], true
}

// Shaping returns taprio overrides from the document.
func (s *Static) Shaping() taprio.Options {
	return s.doc.Shaping
}
