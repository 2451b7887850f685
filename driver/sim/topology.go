package sim

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Topology describes the simulated devices.
//
// It can be loaded from a YAML file, e.g.:
//
//	least_priority: 0
//	greatest_priority: -5
//	devices:
//	  - name: "Sim GPU 0"
//	  - name: "Sim GPU 1"
//	    max_queues: 4
type Topology struct {
	Devices []DeviceSpec `yaml:"devices"`

	// LeastPriority and GreatestPriority define the stream priority range of all devices.
	// Lower numbers are higher priorities, as in CUDA.
	LeastPriority    int `yaml:"least_priority"`
	GreatestPriority int `yaml:"greatest_priority"`
}

// DeviceSpec describes one simulated device.
type DeviceSpec struct {
	Name string `yaml:"name"`

	// MaxQueues and MaxEvents limit the number of live resources created on the device, 0 means unlimited.
	// Creating more fails with StatusMemoryAllocation.
	MaxQueues int `yaml:"max_queues"`
	MaxEvents int `yaml:"max_events"`
}

// DefaultTopology with numDevices unlimited devices and the priority range [0, -5].
func DefaultTopology(numDevices int) Topology {
	t := Topology{LeastPriority: 0, GreatestPriority: -5}
	for ii := range numDevices {
		t.Devices = append(t.Devices, DeviceSpec{Name: fmt.Sprintf("Simulated Accelerator %d", ii)})
	}
	return t
}

// LoadTopology reads a topology from a YAML file.
func LoadTopology(path string) (Topology, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, errors.Wrapf(err, "failed to read topology from %q", path)
	}
	return ParseTopology(contents)
}

// ParseTopology parses a YAML encoded topology.
func ParseTopology(contents []byte) (Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(contents, &t); err != nil {
		return Topology{}, errors.Wrap(err, "failed to parse topology")
	}
	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	for ii := range t.Devices {
		if t.Devices[ii].Name == "" {
			t.Devices[ii].Name = fmt.Sprintf("Simulated Accelerator %d", ii)
		}
	}
	return t, nil
}

// Validate checks the topology is consistent.
func (t Topology) Validate() error {
	if t.GreatestPriority > t.LeastPriority {
		return errors.Errorf("invalid priority range: greatest priority (%d) must be <= least priority (%d)",
			t.GreatestPriority, t.LeastPriority)
	}
	for ii, spec := range t.Devices {
		if spec.MaxQueues < 0 || spec.MaxEvents < 0 {
			return errors.Errorf("device #%d (%q): max_queues and max_events must be >= 0", ii, spec.Name)
		}
	}
	return nil
}
