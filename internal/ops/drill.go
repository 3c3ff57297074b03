package ops

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Digest hashes every archived file under root by relative path and content.
func Digest(root string) (string, error) {
	root = filepath.Clean(root)
	var entries []string
	if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || skipped(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	}); err != nil {
		return "", err
	}
	sort.Strings(entries)

	h := sha256.New()
	for _, rel := range entries {
		_, _ = io.WriteString(h, rel+"\n")
		b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		_, _ = h.Write(b)
		_, _ = io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type DrillReport struct {
	Manifest
	RestoredTo string `json:"restored_to"`
	Digest     string `json:"digest"`
}

// Drill backs dataDir up into workDir, restores it next to the archive and
// checks the restored tree matches the source.
func Drill(dataDir, workDir string, now time.Time) (DrillReport, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return DrillReport{}, err
	}
	ts := now.UTC().Format("20060102T150405Z")
	archive := filepath.Join(workDir, "farmledger-drill-"+ts+".tar.gz")
	restoreDir := filepath.Join(workDir, "farmledger-drill-restore-"+ts)

	m, err := Backup(dataDir, archive)
	if err != nil {
		return DrillReport{}, fmt.Errorf("backup: %w", err)
	}
	if err := Restore(archive, restoreDir); err != nil {
		return DrillReport{}, fmt.Errorf("restore: %w", err)
	}

	src, err := Digest(dataDir)
	if err != nil {
		return DrillReport{}, err
	}
	restored, err := Digest(restoreDir)
	if err != nil {
		return DrillReport{}, err
	}
	if src != restored {
		return DrillReport{}, fmt.Errorf("digest mismatch after restore: src=%s restored=%s", src, restored)
	}
	return DrillReport{Manifest: m, RestoredTo: restoreDir, Digest: src}, nil
}
