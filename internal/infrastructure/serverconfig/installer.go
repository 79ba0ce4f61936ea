package serverconfig

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

const shortNameHeader = "IBM-ShortName"

// Installer lists and installs features of a Liberty installation.
type Installer struct {
	InstallDir string
	// Exec overrides command execution (for testing).
	Exec   func(ctx context.Context, dir string, cmd string, args []string) error
	Stdout io.Writer
	Stderr io.Writer
	Log    zerolog.Logger
}

// NewInstaller creates an installer for the runtime in installDir.
func NewInstaller(installDir string, log zerolog.Logger) *Installer {
	return &Installer{InstallDir: installDir, Stdout: os.Stdout, Stderr: os.Stderr, Log: log}
}

// InstalledFeatures reads the short names of the features in the runtime and
// its user extension from their subsystem manifests.
func (i *Installer) InstalledFeatures(_ context.Context) (domain.FeatureSet, error) {
	installed := domain.NewFeatureSet()
	dirs := []string{
		filepath.Join(i.InstallDir, "lib", "features"),
		filepath.Join(i.InstallDir, "usr", "extension", "lib", "features"),
	}
	for _, dir := range dirs {
		manifests, err := filepath.Glob(filepath.Join(dir, "*.mf"))
		if err != nil {
			return nil, err
		}
		for _, m := range manifests {
			name, err := shortName(m)
			if err != nil {
				return nil, err
			}
			installed.Add(name)
		}
	}
	return installed, nil
}

// shortName returns the IBM-ShortName header of a manifest, joining
// continuation lines.
func shortName(path string) (string, error) {
	// #nosec G304 -- manifest path comes from the runtime directory
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var value strings.Builder
	inHeader := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if inHeader {
			if strings.HasPrefix(line, " ") {
				value.WriteString(line[1:])
				continue
			}
			break
		}
		if name, v, ok := strings.Cut(line, ":"); ok && name == shortNameHeader {
			value.WriteString(strings.TrimSpace(v))
			inHeader = true
		}
	}
	return strings.TrimSpace(value.String()), sc.Err()
}

// InstallFeatures installs features with the runtime's featureUtility.
func (i *Installer) InstallFeatures(ctx context.Context, features []string, acceptLicense bool) error {
	if len(features) == 0 {
		return nil
	}
	args := append([]string{"installFeature"}, features...)
	if acceptLicense {
		args = append(args, "--acceptLicense")
	}
	i.Log.Debug().Strs("features", features).Msg("installing features")
	if err := i.exec(ctx, i.InstallDir, featureUtility(i.InstallDir), args); err != nil {
		return fmt.Errorf("featureUtility installFeature: %w", err)
	}
	return nil
}

func (i *Installer) exec(ctx context.Context, dir, cmd string, args []string) error {
	if i.Exec != nil {
		return i.Exec(ctx, dir, cmd, args)
	}
	// #nosec G204 -- featureUtility is invoked with feature names from server.xml
	c := exec.CommandContext(ctx, cmd, args...)
	c.Dir = dir
	c.Stdout = i.Stdout
	c.Stderr = i.Stderr
	return c.Run()
}

func featureUtility(installDir string) string {
	name := "featureUtility"
	if runtime.GOOS == "windows" {
		name = "featureUtility.bat"
	}
	return filepath.Join(installDir, "bin", name)
}
