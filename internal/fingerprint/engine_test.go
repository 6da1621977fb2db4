package fingerprint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaseVaultHQ/casevault/internal/hwinfo"
)

func testProvider() *hwinfo.StaticProvider {
	return &hwinfo.StaticProvider{
		ID: "machine-aaaa",
		CPUInfo: hwinfo.CPUInfo{
			Manufacturer: "GenuineIntel",
			Brand:        "Intel(R) Core(TM) i7-9750H",
			Family:       "6",
			Cores:        12,
		},
		HostInfo: hwinfo.HostInfo{
			Platform: "linux",
			Arch:     "x86_64",
			Hostname: "workstation",
			Serial:   "SER-123",
		},
		Interfaces: []hwinfo.NetworkInterface{
			{Name: "lo", MAC: "00:00:00:00:00:00", Internal: true},
			{Name: "eth0", MAC: "aa:bb:cc:dd:ee:01"},
			{Name: "wlan0", MAC: "aa:bb:cc:dd:ee:02"},
			{Name: "docker0", MAC: "02:42:ac:11:00:01", Virtual: true},
		},
		Drives: []hwinfo.DiskInfo{
			{Device: "nvme0n1", Vendor: "Samsung", Model: "980PRO", Serial: "S1234"},
			{Device: "sda", Vendor: "Kingston", Model: "DataTraveler", Serial: "K99", Removable: true},
		},
		Fw: hwinfo.FirmwareInfo{BIOSVendor: "AMI", BIOSVersion: "2.17"},
	}
}

func testEngine(t *testing.T, p hwinfo.Provider, now func() time.Time) *Engine {
	t.Helper()
	return NewEngine(EngineConfig{
		Provider: p,
		Logger:   zerolog.New(nil).Level(zerolog.Disabled),
		Now:      now,
	})
}

func TestGenerateFullConfidence(t *testing.T) {
	e := testEngine(t, testProvider(), nil)

	fp, err := e.Generate(context.Background(), false)
	require.NoError(t, err)

	// 30 machine ID + 20 CPU + 15 platform/arch + 10 (2 MACs) + 10 disk + 10 BIOS
	assert.Equal(t, 95, fp.Confidence)
	assert.NotEmpty(t, fp.Hash)
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"}, fp.StableMACs())
	assert.Equal(t, []string{"Samsung-980PRO-S1234"}, fp.StableDiskIDs())
}

func TestGenerateCachedWithinTTL(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }
	e := testEngine(t, testProvider(), now)

	first, err := e.Generate(context.Background(), false)
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	second, err := e.Generate(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.GeneratedAt, second.GeneratedAt)
	assert.True(t, second.LastSeen.After(first.LastSeen))
}

func TestGenerateRegeneratesAfterTTL(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }
	e := testEngine(t, testProvider(), now)

	first, err := e.Generate(context.Background(), false)
	require.NoError(t, err)

	current = current.Add(CacheTTL + time.Second)
	second, err := e.Generate(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, second.GeneratedAt.After(first.GeneratedAt))
	assert.Equal(t, first.Hash, second.Hash, "same hardware must hash identically")
}

func TestGenerateForceRefreshBypassesCache(t *testing.T) {
	p := testProvider()
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := testEngine(t, p, func() time.Time { return current })

	first, err := e.Generate(context.Background(), false)
	require.NoError(t, err)

	p.Drives = append(p.Drives, hwinfo.DiskInfo{Vendor: "WDC", Model: "Blue", Serial: "W42"})
	current = current.Add(time.Second)

	second, err := e.Generate(context.Background(), true)
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestGenerateProbeFailureDegradesConfidence(t *testing.T) {
	p := testProvider()
	p.Errs = map[string]error{"firmware": errors.New("dmi unreadable")}
	e := testEngine(t, p, nil)

	fp, err := e.Generate(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 85, fp.Confidence)
	assert.Empty(t, fp.Firmware.BIOSVendor)
}

func TestRemovingProbeNeverIncreasesConfidence(t *testing.T) {
	probes := []string{"machine_id", "cpu", "host", "net", "disk", "firmware"}

	base := testEngine(t, testProvider(), nil)
	full, err := base.Generate(context.Background(), false)
	require.NoError(t, err)

	for _, probe := range probes {
		p := testProvider()
		p.Errs = map[string]error{probe: errors.New("probe down")}
		e := testEngine(t, p, nil)

		fp, err := e.Generate(context.Background(), false)
		require.NoError(t, err)
		assert.LessOrEqual(t, fp.Confidence, full.Confidence, "losing %s must not raise confidence", probe)
		assert.GreaterOrEqual(t, fp.Confidence, 0)
		assert.LessOrEqual(t, fp.Confidence, 100)
	}
}

func TestGenerateAllProbesFailing(t *testing.T) {
	p := &hwinfo.StaticProvider{Errs: map[string]error{
		"machine_id": errors.New("down"),
		"cpu":        errors.New("down"),
		"host":       errors.New("down"),
		"net":        errors.New("down"),
		"disk":       errors.New("down"),
		"display":    errors.New("down"),
		"firmware":   errors.New("down"),
	}}
	e := testEngine(t, p, nil)

	fp, err := e.Generate(context.Background(), false)
	require.NoError(t, err, "probe failures must never abort generation")
	assert.Equal(t, 0, fp.Confidence)
	assert.NotEmpty(t, fp.Hash)
}

func TestGenerateConcurrentCallsCollapse(t *testing.T) {
	e := testEngine(t, testProvider(), nil)

	var wg sync.WaitGroup
	hashes := make([]string, 8)
	for i := range hashes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fp, err := e.Generate(context.Background(), true)
			require.NoError(t, err)
			hashes[i] = fp.Hash
		}(i)
	}
	wg.Wait()

	for _, h := range hashes {
		assert.Equal(t, hashes[0], h)
	}
}

func TestLightweightIsStable(t *testing.T) {
	e := testEngine(t, testProvider(), nil)

	a := e.Lightweight(context.Background())
	b := e.Lightweight(context.Background())
	require.NotEmpty(t, a)
	assert.Equal(t, a, b)
}

func TestMachineIDFallback(t *testing.T) {
	p := testProvider()
	p.Errs = map[string]error{"machine_id": errors.New("no host id")}
	e := testEngine(t, p, nil)

	id := e.MachineID(context.Background())
	assert.Equal(t, hwinfo.FallbackMachineID(), id)
}
