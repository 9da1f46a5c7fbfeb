// Package sysinfo samples host resources for the dashboard and the stats
// endpoint. Readings come from procfs and sysfs; a reading that cannot be
// taken is reported as zero.
package sysinfo

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// NoNetwork is reported when no outbound address can be found.
const NoNetwork = "No Wifi"

// Paths read by the sampler, relative to its filesystem.
const (
	loadavgPath = "/proc/loadavg"
	meminfoPath = "/proc/meminfo"
	statPath    = "/proc/stat"
	thermalPath = "/sys/class/thermal/thermal_zone0/temp"
)

// Snapshot is one reading of the host.
type Snapshot struct {
	Host        string
	IP          string
	Load        float64
	TempC       float64
	RAMPercent  float64
	DiskPercent float64
}

// Sampler reads host resources.
type Sampler struct {
	fs       afero.Fs
	diskPath string

	// Replaceable for tests.
	hostname   func() (string, error)
	outboundIP func() (string, error)
	statfs     func(path string) (total, avail uint64, err error)

	mu       sync.Mutex
	lastCPU  cpuTimes
	haveLast bool
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithFs reads procfs and sysfs from fs instead of the OS.
func WithFs(fs afero.Fs) Option {
	return func(s *Sampler) { s.fs = fs }
}

// WithDiskPath sets the mount whose usage is reported. Empty keeps "/".
func WithDiskPath(path string) Option {
	return func(s *Sampler) {
		if path != "" {
			s.diskPath = path
		}
	}
}

// New creates a sampler.
func New(opts ...Option) *Sampler {
	s := &Sampler{
		fs:         afero.NewOsFs(),
		diskPath:   "/",
		hostname:   os.Hostname,
		outboundIP: outboundIP,
		statfs:     statfs,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot takes every reading.
func (s *Sampler) Snapshot() Snapshot {
	host, err := s.hostname()
	if err != nil {
		host = "unknown"
	}
	ip, err := s.outboundIP()
	if err != nil {
		ip = NoNetwork
	}
	return Snapshot{
		Host:        host,
		IP:          ip,
		Load:        s.Load(),
		TempC:       s.TempC(),
		RAMPercent:  s.RAMPercent(),
		DiskPercent: s.DiskPercent(),
	}
}

// Load returns the one-minute load average.
func (s *Sampler) Load() float64 {
	data, err := afero.ReadFile(s.fs, loadavgPath)
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[0], 64)
	return v
}

// TempC returns the SoC temperature in Celsius.
func (s *Sampler) TempC() float64 {
	data, err := afero.ReadFile(s.fs, thermalPath)
	if err != nil {
		return 0
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0
	}
	return milli / 1000
}

// RAMPercent returns used memory as (total - available) / total.
func (s *Sampler) RAMPercent() float64 {
	data, err := afero.ReadFile(s.fs, meminfoPath)
	if err != nil {
		return 0
	}
	var total, avail float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, _ := strconv.ParseFloat(fields[1], 64)
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			avail = v
		}
	}
	if total == 0 {
		return 0
	}
	return (total - avail) / total * 100
}

// DiskPercent returns used space on the disk path, counting space reserved
// for root as used.
func (s *Sampler) DiskPercent() float64 {
	total, avail, err := s.statfs(s.diskPath)
	if err != nil || total == 0 {
		return 0
	}
	return float64(total-avail) / float64(total) * 100
}

type cpuTimes struct {
	idle  uint64
	total uint64
}

// CPUPercent returns busy CPU time since the previous call. The first call
// returns 0.
func (s *Sampler) CPUPercent() float64 {
	cur, err := s.readCPU()
	if err != nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.lastCPU, s.haveLast
	s.lastCPU, s.haveLast = cur, true
	if !had || cur.total <= prev.total {
		return 0
	}
	dTotal := float64(cur.total - prev.total)
	dIdle := float64(cur.idle - prev.idle)
	return (dTotal - dIdle) / dTotal * 100
}

func (s *Sampler) readCPU() (cpuTimes, error) {
	data, err := afero.ReadFile(s.fs, statPath)
	if err != nil {
		return cpuTimes{}, err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuTimes{}, fmt.Errorf("unexpected %s line %q", statPath, line)
	}
	var t cpuTimes
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return cpuTimes{}, err
		}
		t.total += v
		// idle and iowait
		if i == 3 || i == 4 {
			t.idle += v
		}
	}
	return t, nil
}

// outboundIP returns the local address used to reach the internet. No packet
// is sent; connecting a UDP socket only selects a route.
func outboundIP() (string, error) {
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", 2*time.Second)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

func statfs(path string) (total, avail uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}
