// Package bundle packs a run's output directory into a tar.gz archive.
package bundle

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/multierr"

	"github.com/pingsantohq/pingmesh/internal/report"
)

const (
	outputPrefix  = "pingmesh_"
	runDirName    = "run"
	infoFileName  = "bundle/info.json"
	redactedValue = "REDACTED"
)

// Each pattern captures the text before and after the secret.
var redactions = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/\s@]+:)[^@\s]+(@)`),
	regexp.MustCompile(`(?i)(password=)[^&\s"']+()`),
	regexp.MustCompile(`(?i)(token=)[^&\s"']+()`),
	regexp.MustCompile(`(?i)(secret=)[^&\s"']+()`),
}

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now   func() time.Time
	NewID func() string
}

// Info describes a bundle and is stored inside it.
type Info struct {
	BundleID    string   `json:"bundle_id"`
	RunID       string   `json:"run_id,omitempty"`
	GeneratedAt string   `json:"generated_at"`
	SourceDir   string   `json:"source_dir"`
	OutputPath  string   `json:"output_path"`
	Files       int      `json:"files"`
	Bytes       int64    `json:"bytes"`
	Redacted    bool     `json:"redacted"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Create archives dir into output. An empty output places
// pingmesh_<run id>.tar.gz next to dir.
func Create(ctx context.Context, dir, output string, deps Dependencies) (info Info, err error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	st, err := os.Stat(dir)
	if err != nil {
		return Info{}, fmt.Errorf("stat run dir %q: %w", dir, err)
	}
	if !st.IsDir() {
		return Info{}, fmt.Errorf("run dir %q is not a directory", dir)
	}

	info = Info{
		BundleID:    deps.NewID(),
		GeneratedAt: deps.Now().UTC().Format(time.RFC3339),
		SourceDir:   dir,
		Redacted:    true,
	}
	if m, err := readManifest(dir); err != nil {
		info.Warnings = append(info.Warnings, err.Error())
	} else {
		info.RunID = m.RunID
	}

	if output == "" {
		name := info.RunID
		if name == "" {
			name = info.BundleID
		}
		output = filepath.Join(filepath.Dir(filepath.Clean(dir)), outputPrefix+name+".tar.gz")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return Info{}, fmt.Errorf("ensure output directory %q: %w", filepath.Dir(output), err)
	}
	info.OutputPath = output

	outFile, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return Info{}, fmt.Errorf("create bundle %q: %w", output, err)
	}
	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)
	defer func() {
		err = multierr.Combine(err, tw.Close(), gw.Close(), outFile.Close())
		if err != nil {
			_ = os.Remove(output)
			info = Info{}
		}
	}()

	if err := addDir(ctx, tw, dir, runDirName, &info); err != nil {
		return info, fmt.Errorf("archive %q: %w", dir, err)
	}
	if err := writeInfo(tw, info); err != nil {
		return info, err
	}
	return info, nil
}

func readManifest(dir string) (report.Manifest, error) {
	var m report.Manifest
	data, err := os.ReadFile(filepath.Join(dir, report.ManifestFile))
	if err != nil {
		return m, fmt.Errorf("manifest unavailable: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

func writeInfo(tw *tar.Writer, info Info) error {
	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bundle info: %w", err)
	}
	return addBytes(tw, payload, infoFileName, time.Now())
}

func addBytes(tw *tar.Writer, data []byte, name string, mod time.Time) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: mod,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %q: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar content for %q: %w", name, err)
	}
	return nil
}

func addDir(ctx context.Context, tw *tar.Writer, dir, base string, info *Info) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(base, rel))
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			header, err := tar.FileInfoHeader(fi, "")
			if err != nil {
				return err
			}
			header.Name = name + "/"
			return tw.WriteHeader(header)
		}
		if !fi.Mode().IsRegular() {
			info.Warnings = append(info.Warnings, fmt.Sprintf("skipped non-regular file %q", rel))
			return nil
		}

		if shouldRedact(path) {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			data = redact(data)
			info.Files++
			info.Bytes += int64(len(data))
			return addBytes(tw, data, name, fi.ModTime())
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		header, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		header.Name = name
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		n, err := io.Copy(tw, file)
		if err != nil {
			return err
		}
		info.Files++
		info.Bytes += n
		return nil
	})
}

// Only scenario and log files can carry credentials; CSV output is copied raw.
func shouldRedact(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".log", ".env":
		return true
	default:
		return false
	}
}

func redact(data []byte) []byte {
	text := string(data)
	for _, pattern := range redactions {
		text = pattern.ReplaceAllString(text, "${1}"+redactedValue+"${2}")
	}
	return []byte(text)
}

// Read lists the entries of a bundle and returns its Info.
func Read(path string) (Info, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, nil, fmt.Errorf("open bundle %q: %w", path, err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return Info{}, nil, fmt.Errorf("gzip reader %q: %w", path, err)
	}
	defer gzr.Close()

	var (
		info    Info
		entries []string
		found   bool
	)
	tr := tar.NewReader(gzr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Info{}, nil, fmt.Errorf("read tar %q: %w", path, err)
		}
		entries = append(entries, hdr.Name)
		if hdr.Name == infoFileName {
			if err := json.NewDecoder(tr).Decode(&info); err != nil {
				return Info{}, nil, fmt.Errorf("decode bundle info: %w", err)
			}
			found = true
		}
	}
	if !found {
		return Info{}, entries, fmt.Errorf("bundle %q has no %s", path, infoFileName)
	}
	return info, entries, nil
}
