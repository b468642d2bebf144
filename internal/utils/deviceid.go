package utils

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// GetDeviceFingerprint returns a stable hardware identifier for this device.
// FACEKIOSK_DEVICE_ID takes precedence; mobile platforms must provide it
// since the identifier is not reachable from Go there.
func GetDeviceFingerprint() (string, error) {
	if id := strings.TrimSpace(os.Getenv("FACEKIOSK_DEVICE_ID")); id != "" {
		return id, nil
	}
	switch runtime.GOOS {
	case "darwin":
		return getMacOSUUID()
	case "linux":
		return getLinuxUUID()
	case "windows":
		return getWindowsUUID()
	case "android":
		return "", errors.New("android: FACEKIOSK_DEVICE_ID must carry ANDROID_ID from the app")
	case "ios":
		return "", errors.New("ios: FACEKIOSK_DEVICE_ID must carry identifierForVendor from the app")
	default:
		return "", errors.New("unsupported platform: " + runtime.GOOS)
	}
}

func getMacOSUUID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "IOPlatformUUID") {
			parts := strings.Split(line, "\"")
			if len(parts) >= 4 {
				return parts[3], nil
			}
		}
	}
	return "", errors.New("no IOPlatformUUID found")
}

func getLinuxUUID() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id", "/sys/class/dmi/id/product_uuid"} {
		if b, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(b)); id != "" {
				return id, nil
			}
		}
	}
	return "", errors.New("no machine id found on linux")
}

func getWindowsUUID() (string, error) {
	out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
	if err != nil {
		return "", err
	}
	for _, line := range bytes.Split(out, []byte("\n")) {
		str := strings.TrimSpace(string(line))
		if str != "" && !strings.EqualFold(str, "UUID") {
			return str, nil
		}
	}
	return "", errors.New("no hardware UUID found on windows")
}
