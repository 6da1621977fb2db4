// Package fingerprint builds composite hardware fingerprints used to bind
// licenses to a single machine and to detect hardware changes.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/CaseVaultHQ/casevault/internal/hwinfo"
)

// CacheTTL is how long a generated fingerprint stays fresh.
const CacheTTL = 5 * time.Minute

// Fingerprint is a composite snapshot of stable hardware identity.
type Fingerprint struct {
	MachineID  string                    `json:"machine_id"`
	CPU        hwinfo.CPUInfo            `json:"cpu"`
	Host       hwinfo.HostInfo           `json:"host"`
	Interfaces []hwinfo.NetworkInterface `json:"interfaces"`
	Disks      []hwinfo.DiskInfo         `json:"disks"`
	Displays   []hwinfo.DisplayInfo      `json:"displays"`
	Firmware   hwinfo.FirmwareInfo       `json:"firmware"`

	Hash        string    `json:"fingerprint_hash"`
	Confidence  int       `json:"confidence"`
	GeneratedAt time.Time `json:"generated_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// StableMACs returns the sorted MAC addresses of non-internal, non-virtual
// interfaces.
func (fp *Fingerprint) StableMACs() []string {
	var macs []string
	for _, iface := range fp.Interfaces {
		if iface.Internal || iface.Virtual || iface.MAC == "" {
			continue
		}
		macs = append(macs, iface.MAC)
	}
	sort.Strings(macs)
	return macs
}

// StableDiskIDs returns sorted "vendor-model-serial" identifiers for
// non-removable drives that report a serial.
func (fp *Fingerprint) StableDiskIDs() []string {
	var ids []string
	for _, d := range fp.Disks {
		if d.Removable || d.Serial == "" {
			continue
		}
		ids = append(ids, fmt.Sprintf("%s-%s-%s", d.Vendor, d.Model, d.Serial))
	}
	sort.Strings(ids)
	return ids
}

// Engine generates, caches, and compares hardware fingerprints.
type Engine struct {
	provider hwinfo.Provider
	logger   zerolog.Logger
	ttl      time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cached *Fingerprint
	group  singleflight.Group
}

// EngineConfig holds construction parameters for the Engine.
type EngineConfig struct {
	Provider hwinfo.Provider
	Logger   zerolog.Logger
	// TTL overrides the cache lifetime; zero means CacheTTL.
	TTL time.Duration
	// Now overrides the clock for tests.
	Now func() time.Time
}

// NewEngine creates a fingerprint engine.
func NewEngine(cfg EngineConfig) *Engine {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = CacheTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		provider: cfg.Provider,
		logger:   cfg.Logger.With().Str("component", "fingerprint").Logger(),
		ttl:      ttl,
		now:      now,
	}
}

// Generate returns the machine's fingerprint. Within the cache TTL the
// cached value is returned with only LastSeen refreshed; forceRefresh
// regenerates unconditionally. Concurrent regenerations collapse into a
// single probe sweep.
func (e *Engine) Generate(ctx context.Context, forceRefresh bool) (*Fingerprint, error) {
	if !forceRefresh {
		e.mu.Lock()
		if e.cached != nil && e.now().Sub(e.cached.GeneratedAt) < e.ttl {
			e.cached.LastSeen = e.now()
			fp := *e.cached
			e.mu.Unlock()
			return &fp, nil
		}
		e.mu.Unlock()
	}

	v, err, _ := e.group.Do("generate", func() (interface{}, error) {
		fp := e.probe(ctx)

		e.mu.Lock()
		e.cached = fp
		e.mu.Unlock()

		e.logger.Debug().
			Str("hash", fp.Hash).
			Int("confidence", fp.Confidence).
			Msg("fingerprint generated")
		return fp, nil
	})
	if err != nil {
		return nil, err
	}

	fp := *v.(*Fingerprint)
	return &fp, nil
}

// Lightweight returns a fast fingerprint over machine ID, CPU brand,
// platform, and architecture only. Used for cheap checks that do not need
// the full probe sweep.
func (e *Engine) Lightweight(ctx context.Context) string {
	machineID, err := e.provider.MachineID(ctx)
	if err != nil || machineID == "" {
		machineID = hwinfo.FallbackMachineID()
	}
	cpuInfo, _ := e.provider.CPU(ctx)
	hostInfo, _ := e.provider.Host(ctx)

	return hashString(strings.Join([]string{
		machineID, cpuInfo.Brand, hostInfo.Platform, hostInfo.Arch,
	}, "|"))
}

// MachineID returns the stable machine identifier, falling back to a
// deterministic platform hash when the OS probe fails.
func (e *Engine) MachineID(ctx context.Context) string {
	id, err := e.provider.MachineID(ctx)
	if err != nil || id == "" {
		e.logger.Warn().Err(err).Msg("machine ID probe failed, using fallback")
		return hwinfo.FallbackMachineID()
	}
	return id
}

// probe fans all hardware sub-probes out concurrently. A failed probe
// yields its zero value and contributes nothing to confidence; it never
// aborts the sweep.
func (e *Engine) probe(ctx context.Context) *Fingerprint {
	fp := &Fingerprint{}

	var wg sync.WaitGroup
	run := func(name string, f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(); err != nil {
				e.logger.Debug().Err(err).Str("probe", name).Msg("hardware probe failed")
			}
		}()
	}

	var (
		machineID string
		cpuInfo   hwinfo.CPUInfo
		hostInfo  hwinfo.HostInfo
		ifaces    []hwinfo.NetworkInterface
		disks     []hwinfo.DiskInfo
		displays  []hwinfo.DisplayInfo
		firmware  hwinfo.FirmwareInfo
	)

	run("machine_id", func() error {
		v, err := e.provider.MachineID(ctx)
		if err != nil {
			return err
		}
		machineID = v
		return nil
	})
	run("cpu", func() error {
		v, err := e.provider.CPU(ctx)
		if err != nil {
			return err
		}
		cpuInfo = v
		return nil
	})
	run("host", func() error {
		v, err := e.provider.Host(ctx)
		if err != nil {
			return err
		}
		hostInfo = v
		return nil
	})
	run("net", func() error {
		v, err := e.provider.NetworkInterfaces(ctx)
		if err != nil {
			return err
		}
		ifaces = v
		return nil
	})
	run("disk", func() error {
		v, err := e.provider.Disks(ctx)
		if err != nil {
			return err
		}
		disks = v
		return nil
	})
	run("display", func() error {
		v, err := e.provider.Displays(ctx)
		if err != nil {
			return err
		}
		displays = v
		return nil
	})
	run("firmware", func() error {
		v, err := e.provider.Firmware(ctx)
		if err != nil {
			return err
		}
		firmware = v
		return nil
	})
	wg.Wait()

	fp.MachineID = machineID
	fp.CPU = cpuInfo
	fp.Host = hostInfo
	fp.Interfaces = ifaces
	fp.Disks = disks
	fp.Displays = displays
	fp.Firmware = firmware

	now := e.now()
	fp.GeneratedAt = now
	fp.LastSeen = now
	fp.Hash = hashString(canonicalString(fp))
	fp.Confidence = confidence(fp)
	return fp
}

// canonicalString builds the pipe-joined field order that is hashed into
// the fingerprint.
func canonicalString(fp *Fingerprint) string {
	fields := []string{
		fp.MachineID,
		fp.CPU.Manufacturer,
		fp.CPU.Brand,
		fp.CPU.Family,
		fmt.Sprintf("%d", fp.CPU.Cores),
		fp.Host.Platform,
		fp.Host.Arch,
		fp.Host.Serial,
		fp.Firmware.BIOSVendor,
		fp.Firmware.BIOSVersion,
		strings.Join(fp.StableMACs(), ","),
		strings.Join(fp.StableDiskIDs(), ","),
	}
	return strings.Join(fields, "|")
}

// confidence scores how many independent hardware signals contributed,
// clamped to [0,100].
func confidence(fp *Fingerprint) int {
	score := 0
	if fp.MachineID != "" {
		score += 30
	}
	if fp.CPU.Brand != "" && fp.CPU.Cores > 0 {
		score += 20
	}
	if fp.Host.Platform != "" && fp.Host.Arch != "" {
		score += 15
	}
	macPts := len(fp.StableMACs()) * 5
	if macPts > 15 {
		macPts = 15
	}
	score += macPts
	if len(fp.StableDiskIDs()) > 0 {
		score += 10
	}
	if fp.Firmware.BIOSVendor != "" && fp.Firmware.BIOSVersion != "" {
		score += 10
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
