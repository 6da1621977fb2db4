package hwinfo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// virtualIfacePrefixes identifies software-defined adapters whose MAC
// addresses are not stable hardware identity.
var virtualIfacePrefixes = []string{
	"veth", "docker", "br-", "virbr", "vmnet", "vboxnet",
	"tap", "tun", "wg", "zt", "utun", "awdl", "llw",
}

// pseudoBlockPrefixes identifies block devices that are not physical drives.
var pseudoBlockPrefixes = []string{"loop", "ram", "zram", "dm-", "sr", "fd", "md"}

// SystemProvider implements Provider against the running machine using
// gopsutil plus DMI/sysfs reads where gopsutil has no coverage.
type SystemProvider struct {
	// sysfsRoot allows tests to redirect /sys reads.
	sysfsRoot string
}

// NewSystemProvider creates a provider for the local machine.
func NewSystemProvider() *SystemProvider {
	return &SystemProvider{sysfsRoot: "/sys"}
}

// MachineID returns the OS machine identifier (DMI/SMBIOS host ID).
func (p *SystemProvider) MachineID(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("query host info: %w", err)
	}
	if info.HostID == "" {
		return "", errors.New("host ID unavailable")
	}
	return strings.ToLower(info.HostID), nil
}

// CPU returns processor identity from the first reported package.
func (p *SystemProvider) CPU(ctx context.Context) (CPUInfo, error) {
	stats, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return CPUInfo{}, fmt.Errorf("query cpu info: %w", err)
	}
	if len(stats) == 0 {
		return CPUInfo{}, errors.New("no cpu info reported")
	}

	first := stats[0]
	cores, err := cpu.CountsWithContext(ctx, false)
	if err != nil || cores == 0 {
		cores = len(stats)
	}

	return CPUInfo{
		Manufacturer: first.VendorID,
		Brand:        strings.TrimSpace(first.ModelName),
		Family:       first.Family,
		Cores:        cores,
	}, nil
}

// Host returns OS identity and the product serial where readable.
func (p *SystemProvider) Host(ctx context.Context) (HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return HostInfo{}, fmt.Errorf("query host info: %w", err)
	}

	arch := info.KernelArch
	if arch == "" {
		arch = "unknown"
	}

	return HostInfo{
		Platform:  info.OS,
		Arch:      arch,
		Hostname:  strings.ToLower(info.Hostname),
		OSVersion: info.PlatformVersion,
		Serial:    p.readDMI("product_serial"),
	}, nil
}

// NetworkInterfaces returns all adapters with virtual/loopback flagging.
func (p *SystemProvider) NetworkInterfaces(ctx context.Context) ([]NetworkInterface, error) {
	stats, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query network interfaces: %w", err)
	}

	ifaces := make([]NetworkInterface, 0, len(stats))
	for _, stat := range stats {
		internal := false
		for _, flag := range stat.Flags {
			if strings.EqualFold(flag, "loopback") {
				internal = true
				break
			}
		}
		ifaces = append(ifaces, NetworkInterface{
			Name:     stat.Name,
			MAC:      strings.ToLower(stat.HardwareAddr),
			Internal: internal,
			Virtual:  isVirtualIface(stat.Name),
		})
	}
	return ifaces, nil
}

// Disks enumerates physical drives with serials where the OS exposes them.
func (p *SystemProvider) Disks(ctx context.Context) ([]DiskInfo, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query block devices: %w", err)
	}

	names := make([]string, 0, len(counters))
	for name := range counters {
		if isPhysicalDisk(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	disks := make([]DiskInfo, 0, len(names))
	for _, name := range names {
		serial := counters[name].SerialNumber
		if serial == "" {
			serial, _ = disk.SerialNumberWithContext(ctx, name)
		}
		disks = append(disks, DiskInfo{
			Device:    name,
			Vendor:    p.readBlockAttr(name, "device/vendor"),
			Model:     p.readBlockAttr(name, "device/model"),
			Serial:    strings.TrimSpace(serial),
			Removable: p.readBlockAttr(name, "removable") == "1",
		})
	}
	return disks, nil
}

// Displays enumerates connected DRM connectors on Linux; other platforms
// report no displays rather than failing.
func (p *SystemProvider) Displays(ctx context.Context) ([]DisplayInfo, error) {
	pattern := filepath.Join(p.sysfsRoot, "class", "drm", "card*-*")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return nil, nil
	}

	var displays []DisplayInfo
	for _, dir := range matches {
		status, err := os.ReadFile(filepath.Join(dir, "status"))
		if err != nil || strings.TrimSpace(string(status)) != "connected" {
			continue
		}
		displays = append(displays, DisplayInfo{
			Connector: filepath.Base(dir),
		})
	}
	return displays, nil
}

// Firmware returns BIOS and board identity from DMI.
func (p *SystemProvider) Firmware(ctx context.Context) (FirmwareInfo, error) {
	fw := FirmwareInfo{
		BIOSVendor:  p.readDMI("bios_vendor"),
		BIOSVersion: p.readDMI("bios_version"),
		BoardSerial: p.readDMI("board_serial"),
	}
	if fw == (FirmwareInfo{}) {
		return fw, errors.New("firmware info unavailable")
	}
	return fw, nil
}

// readDMI reads one attribute from /sys/class/dmi/id. Missing or
// unreadable attributes (permissions, non-Linux) yield "".
func (p *SystemProvider) readDMI(attr string) string {
	data, err := os.ReadFile(filepath.Join(p.sysfsRoot, "class", "dmi", "id", attr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readBlockAttr reads one attribute from /sys/block/<dev>.
func (p *SystemProvider) readBlockAttr(device, attr string) string {
	data, err := os.ReadFile(filepath.Join(p.sysfsRoot, "block", device, attr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func isVirtualIface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range virtualIfacePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// isPhysicalDisk filters out pseudo devices and partitions, keeping whole
// drives like sda or nvme0n1.
func isPhysicalDisk(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range pseudoBlockPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	// nvme partitions look like nvme0n1p1
	if strings.HasPrefix(lower, "nvme") && strings.Contains(lower, "p") {
		trailer := lower[strings.LastIndex(lower, "p")+1:]
		if trailer != "" && isDigits(trailer) {
			return false
		}
	}
	// sd/hd/vd partitions look like sda1
	if strings.HasPrefix(lower, "sd") || strings.HasPrefix(lower, "hd") || strings.HasPrefix(lower, "vd") {
		if len(lower) > 3 && isDigits(lower[3:]) {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
