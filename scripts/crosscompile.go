package main

// crosscompile.go builds soil-sensor-map for the platforms field laptops
// and little NUC boxes actually run. Everything here is pure Go, so
// CGO stays off and the whole matrix cross-compiles from one machine.

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var targets = []struct{ goos, goarch string }{
	{"linux", "amd64"},
	{"linux", "arm64"},
	{"linux", "arm"},
	{"darwin", "amd64"},
	{"darwin", "arm64"},
	{"windows", "amd64"},
}

func main() {
	if err := exec.Command("go", "mod", "tidy").Run(); err != nil {
		fmt.Printf("go mod tidy failed: %v\n", err)
	}

	version, err := gitVersion()
	if err != nil {
		log.Fatalf("git version: %v", err)
	}
	fmt.Printf("Building version: %s\n", version)

	outRoot := filepath.Join("binaries", version)
	if err := os.MkdirAll(outRoot, 0o755); err != nil {
		log.Fatalf("binaries dir: %v", err)
	}
	latest := filepath.Join("binaries", "latest")
	os.Remove(latest)
	if err := os.Symlink(version, latest); err != nil {
		log.Printf("Warning: symlink 'latest': %v", err)
	}

	ldflags := fmt.Sprintf("-X 'main.CompileVersion=%s'", version)
	for _, t := range targets {
		name := "soil-sensor-map"
		if t.goos == "windows" {
			name += ".exe"
		}
		outDir := filepath.Join(outRoot, t.goos, t.goarch)
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			log.Printf("%s/%s: %v", t.goos, t.goarch, err)
			continue
		}
		cmd := exec.Command("go", "build", "-ldflags", ldflags,
			"-o", filepath.Join(outDir, name), ".")
		cmd.Env = append(os.Environ(),
			"GOOS="+t.goos, "GOARCH="+t.goarch, "CGO_ENABLED=0")
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			os.RemoveAll(outDir)
			log.Printf("build %s/%s failed", t.goos, t.goarch)
			continue
		}
		fmt.Printf("Successfully built %s for %s/%s\n", name, t.goos, t.goarch)
	}
}

// gitVersion numbers the build by commit count, with a -dirty suffix
// when the tree has local changes.
func gitVersion() (string, error) {
	count, err := exec.Command("git", "rev-list", "--count", "HEAD").Output()
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(string(count))

	status, err := exec.Command("git", "status", "--porcelain").Output()
	if err != nil {
		return "", err
	}
	if len(strings.TrimSpace(string(status))) > 0 {
		version += "-dirty"
	}
	return version, nil
}
