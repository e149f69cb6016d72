package isul

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// fingerprintEnv overrides machine fingerprinting entirely, for hosts whose
// hardware identity is not stable (VMs cloned from one image, CI runners).
const fingerprintEnv = "ISUL_FINGERPRINT"

const hostIDTimeout = 2 * time.Second

var linuxMachineIDFiles = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// virtualInterfacePrefixes name software adapters that appear and disappear
// with containers and virtual machines.
var virtualInterfacePrefixes = []string{
	"docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "vnet", "vEthernet",
	"tun", "tap", "utun", "wg", "zt", "tailscale", "awdl", "llw", "bridge",
}

// MachineFingerprint produces a deterministic, reboot-safe identifier of this
// machine, scoped to one product so that fingerprints cannot be correlated
// across products.
//
// The OS machine id is preferred: /etc/machine-id on Linux, IOPlatformUUID on
// macOS and MachineGuid on Windows. Only when none is available does it fall
// back to the hostname and the MAC addresses of physical interfaces that are up.
func MachineFingerprint(productID string) (string, error) {
	if fp := os.Getenv(fingerprintEnv); fp != "" {
		return fp, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), hostIDTimeout)
	defer cancel()

	var hostname string
	var macs []string
	id := machineID(ctx)
	if id == "" {
		var err error
		if hostname, err = os.Hostname(); err != nil {
			return "", fmt.Errorf("get hostname: %w", err)
		}
		macs, _ = hardwareAddrs()
	}

	sum := sha256.Sum256([]byte(strings.Join(fingerprintParts(productID, id, hostname, macs), "|")))
	return hex.EncodeToString(sum[:]), nil
}

func fingerprintParts(productID, machineID, hostname string, macs []string) []string {
	parts := []string{productID}
	if machineID != "" {
		parts = append(parts, machineID)
	} else {
		parts = append(parts, hostname)
		parts = append(parts, macs...)
	}
	return append(parts, runtime.GOOS, runtime.GOARCH)
}

// machineID returns the OS machine id, or "" when there is none.
func machineID(ctx context.Context) string {
	if runtime.GOOS == "linux" {
		// gopsutil falls back to the per-boot id on Linux, which is not stable.
		for _, p := range linuxMachineIDFiles {
			if b, err := os.ReadFile(p); err == nil {
				if id := strings.TrimSpace(string(b)); id != "" {
					return id
				}
			}
		}
		return ""
	}
	id, err := host.HostIDWithContext(ctx)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(id))
}

// hardwareAddrs returns the sorted MAC addresses of usable interfaces.
func hardwareAddrs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var macs []string
	for _, iface := range ifaces {
		if usableInterface(iface) {
			macs = append(macs, iface.HardwareAddr.String())
		}
	}
	sort.Strings(macs)
	return macs, nil
}

// usableInterface reports whether iface is an active physical adapter.
func usableInterface(iface net.Interface) bool {
	if iface.Flags&net.FlagUp == 0 ||
		iface.Flags&net.FlagLoopback != 0 ||
		iface.Flags&net.FlagPointToPoint != 0 {
		return false
	}
	if len(iface.HardwareAddr) == 0 || iface.HardwareAddr[0]&0x02 != 0 {
		// Locally administered addresses are assigned by software.
		return false
	}
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(iface.Name, prefix) {
			return false
		}
	}
	return true
}
