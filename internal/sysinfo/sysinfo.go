// Package sysinfo collects facts about the local machine for startup logging
// and the dashboard info document.
package sysinfo

import (
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Local describes the machine jetdash runs on.
type Local struct {
	Hostname string
	OSName   string
	Kernel   string
	Arch     string
}

// Collect gathers local system information. Missing facts are left empty.
func Collect() *Local {
	hostname, _ := os.Hostname()
	info := &Local{
		Hostname: hostname,
		OSName:   runtime.GOOS,
		Arch:     runtime.GOARCH,
	}

	if hostInfo, err := host.Info(); err == nil {
		if hostInfo.Hostname != "" && info.Hostname == "" {
			info.Hostname = hostInfo.Hostname
		}
		info.OSName = osName(hostInfo.Platform, hostInfo.PlatformVersion, runtime.GOOS)
		info.Kernel = hostInfo.KernelVersion
	}

	if runtime.GOOS == "linux" {
		if prettyName := readOSReleasePrettyName("/etc/os-release"); prettyName != "" {
			info.OSName = prettyName
		}
	}

	return info
}

// osName joins platform and version, falling back to goos.
func osName(platform, version, goos string) string {
	if platform == "" {
		return goos
	}
	if version != "" {
		return platform + " " + version
	}
	return platform
}

// readOSReleasePrettyName parses an os-release file for the PRETTY_NAME field.
func readOSReleasePrettyName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			val := strings.TrimPrefix(line, "PRETTY_NAME=")
			val = strings.Trim(val, "\"")
			return val
		}
	}
	return ""
}
