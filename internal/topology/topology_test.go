package topology

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"

	"github.com/friendsincode/gclsync/internal/models"
	"github.com/friendsincode/gclsync/internal/taprio"
)

const sampleTopology = `
targets:
  - id: s1
    interface: ens160
  - id: s2
    interface: ens192
  - id: s3
    interface: s3-eth1
    namespace: s3
hosts:
  - id: h1
    address: 10.0.0.1
    namespace: h1
  - id: h3
    address: 10.0.0.3
    namespace: h3
probe:
  source: h1
  target: h3
  count: 10
shaping:
  clockid: CLOCK_TAI
  flags: "0x1"
`

func TestParse(t *testing.T) {
	topo, err := Parse([]byte(sampleTopology))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	targets := topo.Targets()
	if len(targets) != 3 || targets[0].ID != "s1" || targets[2].Namespace != "s3" {
		t.Fatalf("unexpected targets %+v", targets)
	}
	if got := topo.Interfaces(); len(got) != 3 || got[1] != "ens192" {
		t.Fatalf("Interfaces() = %v", got)
	}

	src, dst, ok := topo.ProbeHosts()
	if !ok || src.Address != "10.0.0.1" || dst.Namespace != "h3" {
		t.Fatalf("ProbeHosts() = %+v %+v %v", src, dst, ok)
	}
	if topo.Probe().Count != 10 {
		t.Fatalf("probe count = %d", topo.Probe().Count)
	}

	opts := taprio.DefaultOptions().Merge(topo.Shaping())
	if opts.ClockID != taprio.ClockTAI || opts.Flags != "0x1" || opts.NumTC != 2 {
		t.Fatalf("shaping overrides not applied: %+v", opts)
	}
}

func TestLookups(t *testing.T) {
	topo := Default()

	if _, err := topo.Target("s9"); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("Target(s9) error = %v", err)
	}
	if s2, err := topo.Target("s2"); err != nil || s2.Interface != "ens192" {
		t.Fatalf("Target(s2) = %+v, %v", s2, err)
	}
	if _, err := topo.Host("h9"); !errors.Is(err, ErrUnknownHost) {
		t.Fatalf("Host(h9) error = %v", err)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"no targets":      "hosts: []\n",
		"duplicate":       "targets: [{id: s1, interface: a}, {id: s1, interface: b}]\n",
		"empty interface": "targets: [{id: s1}]\n",
		"unknown probe":   "targets: [{id: s1, interface: a}]\nprobe: {source: h1, target: h3}\n",
		"bad yaml":        "targets: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidTopology) {
				t.Fatalf("Parse() error = %v, want ErrInvalidTopology", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	if err := os.WriteFile(path, []byte(sampleTopology), 0o644); err != nil {
		t.Fatal(err)
	}
	topo, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(topo.Targets()) != 3 {
		t.Fatalf("expected 3 targets")
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLinkCheckerVerify(t *testing.T) {
	links := map[string]netlink.Link{
		"ens160": &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: "ens160", Index: 2, OperState: netlink.OperUp}},
	}
	checker := NewLinkChecker(zerolog.Nop())
	checker.lookup = func(name string) (netlink.Link, error) {
		if l, ok := links[name]; ok {
			return l, nil
		}
		return nil, errors.New("Link not found")
	}

	statuses, err := checker.Verify([]models.SwitchTarget{
		{ID: "s1", Interface: "ens160"},
		{ID: "s2", Interface: "ens192"},
		{ID: "s3", Interface: "s3-eth1", Namespace: "s3"},
	})
	if !errors.Is(err, ErrMissingInterface) {
		t.Fatalf("Verify() error = %v, want ErrMissingInterface", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if statuses[0].OperState != "up" || statuses[0].Index != 2 {
		t.Fatalf("unexpected s1 status %+v", statuses[0])
	}
	if statuses[1].OperState != "missing" {
		t.Fatalf("unexpected s2 status %+v", statuses[1])
	}
	if !statuses[2].Skipped {
		t.Fatalf("namespaced target not skipped: %+v", statuses[2])
	}
}
