package platforms

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	goversion "github.com/hashicorp/go-version"
)

// Auto-detected qibolab versions. Anything else in versions.json is an
// explicit pin and is trusted as-is.
const (
	versionOldAPI = "0.1.0"
	versionNewAPI = "0.2.0"
)

const versionsFile = "versions.json"

// calibrationFile only exists on platforms written for the 0.2 API.
const calibrationFile = "calibration.json"

// IsNewAPI reports whether a qibolab version uses the >=0.2.0 API.
// Unparseable versions count as old API.
func IsNewAPI(v string) bool {
	parsed, err := goversion.NewVersion(v)
	if err != nil {
		return false
	}
	minimum := goversion.Must(goversion.NewVersion(versionNewAPI))

	return parsed.GreaterThanOrEqual(minimum)
}

// PlatformVersion resolves the qibolab version of one platform. Explicit
// pins in versions.json win; otherwise the version is detected from the
// platform layout and the detection persisted back for the next reader.
func (m *Manager) PlatformVersion(platform string) (string, error) {
	dir := m.PlatformDir(platform)
	path := filepath.Join(dir, versionsFile)

	versions := map[string]any{}
	if b, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(b, &versions); err != nil && m.log != nil {
			m.log.Warnw("unreadable versions.json", "platform", platform, "error", err)
		}
	}

	if v, ok := versions["qibolab_version"].(string); ok {
		if v != versionOldAPI && v != versionNewAPI {
			return v, nil
		}
	}

	detected := versionOldAPI
	if _, err := os.Stat(filepath.Join(dir, calibrationFile)); err == nil {
		detected = versionNewAPI
	}

	if versions["qibolab_version"] != detected {
		versions["qibolab_version"] = detected
		if err := m.writeVersions(path, versions); err != nil && m.log != nil {
			m.log.Warnw("could not persist detected version", "platform", platform, "error", err)
		}
	}

	return detected, nil
}

func (m *Manager) writeVersions(path string, versions map[string]any) error {
	b, err := json.MarshalIndent(versions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", versionsFile, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", versionsFile, err)
	}

	return nil
}
