// Package profile generates the randomised server identity the engines
// present: hostname, addresses, kernel, SSH banner, uptime, PIDs. Engines
// snapshot a Profile once per connection so an attacker never sees the
// fingerprint change mid-session.
package profile

import (
	"fmt"
	mrand "math/rand"
	"strings"
	"sync"
	"time"
)

// Profile holds one randomised identity.
type Profile struct {
	Hostname   string
	IP         string
	SSHVersion string
	Kernel     string
	UptimeDays int
	UptimeStr  string // e.g. "127 days,  3:42"
	LoadStr    string // e.g. "0.05, 0.08, 0.06"
	SSHDPid    int
	NginxPid   int
	MysqlPid   int
	LastIP     string // source IP shown in "Last login"
	MemTotal   string
	MemUsed    string
	DiskUsed   int // percent used on /
	DiskSize   int // GB
}

// Source hands out a consistent snapshot of the current profile and can
// rotate it in the background.
type Source struct {
	mu  sync.RWMutex
	cur Profile
}

// NewSource rolls an initial profile.
func NewSource() *Source {
	return &Source{cur: roll()}
}

// Get returns a snapshot. Callers should store the result and use it for
// the lifetime of a connection.
func (s *Source) Get() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Rotate replaces the fingerprint with a fresh one.
func (s *Source) Rotate() Profile {
	p := roll()
	s.mu.Lock()
	s.cur = p
	s.mu.Unlock()
	return p
}

// StartRotation rotates the fingerprint every interval until stop is
// closed.
func (s *Source) StartRotation(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Rotate()
			case <-stop:
				return
			}
		}
	}()
}

func roll() Profile {
	hostnames := []string{
		"web-prod-01", "web-01", "api-server-01", "prod-app-01",
		"ubuntu-srv-01", "linux-server", "prod-web-01", "app-node-01",
		"backend-prod", "srv-main-01",
	}
	kernels := []string{
		"5.15.0-1034-aws #38-Ubuntu SMP Mon Apr 17 11:42:51 UTC 2024",
		"5.15.0-107-generic #117-Ubuntu SMP Mon Apr 15 19:16:51 UTC 2024",
		"5.15.0-91-generic #101-Ubuntu SMP Tue Nov 14 13:30:08 UTC 2023",
		"5.19.0-1029-aws #30-Ubuntu SMP Mon Mar 27 20:26:52 UTC 2023",
		"6.5.0-35-generic #35~22.04.1-Ubuntu SMP Mon May 06 14:00:04 UTC 2024",
	}
	sshVersions := []string{
		"SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.6",
		"SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.11",
		"SSH-2.0-OpenSSH_9.3p1 Ubuntu-1ubuntu3.6",
		"SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.10",
		"SSH-2.0-OpenSSH_9.6p1 Ubuntu-3ubuntu13.5",
	}
	lastIPs := []string{
		"203.0.113.42", "198.51.100.10", "192.0.2.15",
		"45.33.32.156", "104.21.8.82", "172.217.14.196",
	}

	rng := mrand.New(mrand.NewSource(time.Now().UnixNano()))

	// IP: avoid .1 (gateway) and a few octets kept for pivot hosts.
	reserved := map[int]bool{1: true, 10: true, 20: true, 45: true, 100: true}
	var octet int
	for {
		octet = 2 + rng.Intn(120)
		if !reserved[octet] {
			break
		}
	}

	uptimeDays := 30 + rng.Intn(171)
	uptimeStr := fmt.Sprintf("%d days, %2d:%02d", uptimeDays, rng.Intn(24), rng.Intn(60))
	loadStr := fmt.Sprintf("%.2f, %.2f, %.2f",
		rng.Float64()*0.8, rng.Float64()*0.6, rng.Float64()*0.4)

	sshdPID := 500 + rng.Intn(600)
	nginxPID := sshdPID + 100 + rng.Intn(700)
	mysqlPID := nginxPID + 100 + rng.Intn(900)

	memTotalG := []int{8, 16, 32}[rng.Intn(3)]
	memUsedG := 1 + rng.Intn(memTotalG/2)
	diskSize := []int{100, 200, 500}[rng.Intn(3)]

	return Profile{
		Hostname:   hostnames[rng.Intn(len(hostnames))],
		IP:         fmt.Sprintf("10.0.1.%d", octet),
		SSHVersion: sshVersions[rng.Intn(len(sshVersions))],
		Kernel:     kernels[rng.Intn(len(kernels))],
		UptimeDays: uptimeDays,
		UptimeStr:  uptimeStr,
		LoadStr:    loadStr,
		SSHDPid:    sshdPID,
		NginxPid:   nginxPID,
		MysqlPid:   mysqlPID,
		LastIP:     lastIPs[rng.Intn(len(lastIPs))],
		MemTotal:   fmt.Sprintf("%dGi", memTotalG),
		MemUsed:    fmt.Sprintf("%dGi", memUsedG),
		DiskUsed:   20 + rng.Intn(50),
		DiskSize:   diskSize,
	}
}

// KernelShort returns just the kernel release (e.g. "5.15.0-1034-aws").
func (p Profile) KernelShort() string {
	return strings.Fields(p.Kernel)[0]
}

// KernelBuild returns the build string after the first token.
func (p Profile) KernelBuild() string {
	parts := strings.Fields(p.Kernel)
	if len(parts) < 2 {
		return p.Kernel
	}
	return strings.Join(parts[1:], " ")
}
