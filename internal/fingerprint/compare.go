package fingerprint

// Compare scores how similar two fingerprints are on a 0..100 scale using
// weighted signal agreement. Higher scores mean the fingerprints likely
// describe the same machine.
func Compare(a, b *Fingerprint) int {
	if a == nil || b == nil {
		return 0
	}

	score := 0

	if a.MachineID != "" && a.MachineID == b.MachineID {
		score += 30
	}

	switch {
	case a.CPU.Manufacturer != "" && a.CPU.Manufacturer == b.CPU.Manufacturer &&
		a.CPU.Brand != "" && a.CPU.Brand == b.CPU.Brand &&
		a.CPU.Family == b.CPU.Family:
		score += 20
	case a.CPU.Brand != "" && a.CPU.Brand == b.CPU.Brand:
		score += 15
	case a.CPU.Manufacturer != "" && a.CPU.Manufacturer == b.CPU.Manufacturer:
		score += 10
	}

	switch {
	case a.Host.Platform != "" && a.Host.Platform == b.Host.Platform &&
		a.Host.Arch != "" && a.Host.Arch == b.Host.Arch:
		score += 15
	case a.Host.Platform != "" && a.Host.Platform == b.Host.Platform:
		score += 10
	}

	score += proportional(a.StableMACs(), b.StableMACs(), 15)
	score += proportional(a.StableDiskIDs(), b.StableDiskIDs(), 10)

	switch {
	case a.Firmware.BIOSVendor != "" && a.Firmware.BIOSVendor == b.Firmware.BIOSVendor &&
		a.Firmware.BIOSVersion != "" && a.Firmware.BIOSVersion == b.Firmware.BIOSVersion:
		score += 10
	case a.Firmware.BIOSVendor != "" && a.Firmware.BIOSVendor == b.Firmware.BIOSVendor:
		score += 5
	}

	if score > 100 {
		score = 100
	}
	return score
}

// proportional awards up to max points for the overlap ratio between two
// identifier sets. Two empty sets carry no signal and score zero.
func proportional(a, b []string, max int) int {
	union := make(map[string]struct{}, len(a)+len(b))
	inA := make(map[string]struct{}, len(a))
	for _, s := range a {
		union[s] = struct{}{}
		inA[s] = struct{}{}
	}
	shared := 0
	for _, s := range b {
		if _, ok := inA[s]; ok {
			shared++
		}
		union[s] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return shared * max / len(union)
}
