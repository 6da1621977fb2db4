package fingerprint

import "fmt"

// ChangeKind classifies a detected hardware change.
type ChangeKind string

const (
	ChangeMachineID     ChangeKind = "machine_id"
	ChangeCPUBrand      ChangeKind = "cpu_brand"
	ChangeCPUCores      ChangeKind = "cpu_cores"
	ChangePlatform      ChangeKind = "platform"
	ChangeArch          ChangeKind = "arch"
	ChangeMACAdded      ChangeKind = "mac_added"
	ChangeMACRemoved    ChangeKind = "mac_removed"
	ChangeDiskAdded     ChangeKind = "disk_added"
	ChangeDiskRemoved   ChangeKind = "disk_removed"
)

// Change describes one difference between two fingerprints.
type Change struct {
	Kind     ChangeKind `json:"kind"`
	Previous string     `json:"previous,omitempty"`
	Current  string     `json:"current,omitempty"`
}

// String renders the change for logs.
func (c Change) String() string {
	return fmt.Sprintf("%s: %q -> %q", c.Kind, c.Previous, c.Current)
}

// DetectChanges compares two fingerprints and reports what hardware
// identity moved between them.
func DetectChanges(previous, current *Fingerprint) []Change {
	if previous == nil || current == nil {
		return nil
	}

	var changes []Change
	if previous.MachineID != current.MachineID {
		changes = append(changes, Change{ChangeMachineID, previous.MachineID, current.MachineID})
	}
	if previous.CPU.Brand != current.CPU.Brand {
		changes = append(changes, Change{ChangeCPUBrand, previous.CPU.Brand, current.CPU.Brand})
	}
	if previous.CPU.Cores != current.CPU.Cores {
		changes = append(changes, Change{
			ChangeCPUCores,
			fmt.Sprintf("%d", previous.CPU.Cores),
			fmt.Sprintf("%d", current.CPU.Cores),
		})
	}
	if previous.Host.Platform != current.Host.Platform {
		changes = append(changes, Change{ChangePlatform, previous.Host.Platform, current.Host.Platform})
	}
	if previous.Host.Arch != current.Host.Arch {
		changes = append(changes, Change{ChangeArch, previous.Host.Arch, current.Host.Arch})
	}

	changes = append(changes, setDiff(previous.StableMACs(), current.StableMACs(), ChangeMACAdded, ChangeMACRemoved)...)
	changes = append(changes, setDiff(previous.StableDiskIDs(), current.StableDiskIDs(), ChangeDiskAdded, ChangeDiskRemoved)...)
	return changes
}

func setDiff(prev, cur []string, added, removed ChangeKind) []Change {
	prevSet := make(map[string]struct{}, len(prev))
	for _, s := range prev {
		prevSet[s] = struct{}{}
	}
	curSet := make(map[string]struct{}, len(cur))
	for _, s := range cur {
		curSet[s] = struct{}{}
	}

	var changes []Change
	for _, s := range cur {
		if _, ok := prevSet[s]; !ok {
			changes = append(changes, Change{Kind: added, Current: s})
		}
	}
	for _, s := range prev {
		if _, ok := curSet[s]; !ok {
			changes = append(changes, Change{Kind: removed, Previous: s})
		}
	}
	return changes
}
