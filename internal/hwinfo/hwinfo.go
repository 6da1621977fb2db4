// Package hwinfo gathers the hardware identity signals that feed device
// fingerprinting: machine identifier, CPU, OS, network interfaces, storage
// drives, displays, and firmware.
package hwinfo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
)

// CPUInfo describes the processor.
type CPUInfo struct {
	Manufacturer string `json:"manufacturer"`
	Brand        string `json:"brand"`
	Family       string `json:"family"`
	Cores        int    `json:"cores"`
}

// HostInfo describes the operating system and host identity.
type HostInfo struct {
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
	Hostname  string `json:"hostname"`
	OSVersion string `json:"os_version"`
	Serial    string `json:"serial"`
}

// NetworkInterface describes one network adapter.
type NetworkInterface struct {
	Name     string `json:"name"`
	MAC      string `json:"mac"`
	Internal bool   `json:"internal"`
	Virtual  bool   `json:"virtual"`
}

// DiskInfo describes one storage drive.
type DiskInfo struct {
	Device    string `json:"device"`
	Vendor    string `json:"vendor"`
	Model     string `json:"model"`
	Serial    string `json:"serial"`
	Removable bool   `json:"removable"`
}

// DisplayInfo describes one connected display.
type DisplayInfo struct {
	Connector string `json:"connector"`
	Vendor    string `json:"vendor"`
	Model     string `json:"model"`
}

// FirmwareInfo describes BIOS/board identity.
type FirmwareInfo struct {
	BIOSVendor  string `json:"bios_vendor"`
	BIOSVersion string `json:"bios_version"`
	BoardSerial string `json:"board_serial"`
}

// Provider exposes read-only accessors for hardware identity signals.
// Implementations must tolerate missing information sources: a probe that
// cannot answer returns an error and the caller degrades gracefully.
type Provider interface {
	MachineID(ctx context.Context) (string, error)
	CPU(ctx context.Context) (CPUInfo, error)
	Host(ctx context.Context) (HostInfo, error)
	NetworkInterfaces(ctx context.Context) ([]NetworkInterface, error)
	Disks(ctx context.Context) ([]DiskInfo, error)
	Displays(ctx context.Context) ([]DisplayInfo, error)
	Firmware(ctx context.Context) (FirmwareInfo, error)
}

// FallbackMachineID derives a deterministic machine identifier from
// platform, architecture, and hostname. Used when the OS machine ID is
// unavailable.
func FallbackMachineID() string {
	hostname, _ := os.Hostname()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", runtime.GOOS, runtime.GOARCH, hostname)))
	return hex.EncodeToString(sum[:])
}

// StaticProvider returns fixed values. It backs tests and the
// `fingerprint --fake` debugging path.
type StaticProvider struct {
	ID         string
	CPUInfo    CPUInfo
	HostInfo   HostInfo
	Interfaces []NetworkInterface
	Drives     []DiskInfo
	Screens    []DisplayInfo
	Fw         FirmwareInfo

	// Errs maps probe names ("machine_id", "cpu", "host", "net", "disk",
	// "display", "firmware") to forced failures.
	Errs map[string]error
}

func (p *StaticProvider) err(name string) error {
	if p.Errs == nil {
		return nil
	}
	return p.Errs[name]
}

// MachineID implements Provider.
func (p *StaticProvider) MachineID(context.Context) (string, error) {
	if err := p.err("machine_id"); err != nil {
		return "", err
	}
	return p.ID, nil
}

// CPU implements Provider.
func (p *StaticProvider) CPU(context.Context) (CPUInfo, error) {
	if err := p.err("cpu"); err != nil {
		return CPUInfo{}, err
	}
	return p.CPUInfo, nil
}

// Host implements Provider.
func (p *StaticProvider) Host(context.Context) (HostInfo, error) {
	if err := p.err("host"); err != nil {
		return HostInfo{}, err
	}
	return p.HostInfo, nil
}

// NetworkInterfaces implements Provider.
func (p *StaticProvider) NetworkInterfaces(context.Context) ([]NetworkInterface, error) {
	if err := p.err("net"); err != nil {
		return nil, err
	}
	return p.Interfaces, nil
}

// Disks implements Provider.
func (p *StaticProvider) Disks(context.Context) ([]DiskInfo, error) {
	if err := p.err("disk"); err != nil {
		return nil, err
	}
	return p.Drives, nil
}

// Displays implements Provider.
func (p *StaticProvider) Displays(context.Context) ([]DisplayInfo, error) {
	if err := p.err("display"); err != nil {
		return nil, err
	}
	return p.Screens, nil
}

// Firmware implements Provider.
func (p *StaticProvider) Firmware(context.Context) (FirmwareInfo, error) {
	if err := p.err("firmware"); err != nil {
		return FirmwareInfo{}, err
	}
	return p.Fw, nil
}
