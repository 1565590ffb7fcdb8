// Package acquire guarantees that a verified "-latest" PBF + MD5 pair exists
// in the output directory before the import runs. It decides between
// downloading from the mirror and restoring a date-stamped archive copy, and
// maintains that archive as a write-once cache.
package acquire

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jacopofar/pgosm-flex/internal/invoke"
	"github.com/jacopofar/pgosm-flex/internal/naming"
)

// Today returns the yyyy-mm-dd string for the current date.
func Today() string {
	return time.Now().Format("2006-01-02")
}

// Manager performs data acquisition for one run. One run owns the output
// directory exclusively; there is no locking.
type Manager struct {
	outPath string
	runner  invoke.Runner
	log     *slog.Logger

	// today is swappable in tests.
	today func() string
}

// NewManager returns a Manager writing into outPath and downloading through
// runner.
func NewManager(outPath string, runner invoke.Runner, log *slog.Logger) *Manager {
	return &Manager{
		outPath: outPath,
		runner:  runner,
		log:     log,
		today:   Today,
	}
}

// PrepareData ensures a verified PBF file is available and returns its path.
// It downloads when the dated pair is absent and the run date is today,
// restores from the dated archive otherwise, and always verifies the MD5
// checksum before returning.
func (m *Manager) PrepareData(ctx context.Context, region, subregion, date string) (string, error) {
	pbfFile := filepath.Join(m.outPath, naming.RegionFilename(region, subregion))
	pbfFileWithDate := strings.Replace(pbfFile, naming.LatestMarker, date, 1)

	md5File := pbfFile + ".md5"
	md5FileWithDate := pbfFileWithDate + ".md5"

	needed, err := m.downloadNeeded(pbfFileWithDate, md5FileWithDate, date)
	if err != nil {
		return "", err
	}

	if needed {
		m.log.Info("downloading PBF and MD5 files", "region", region, "subregion", subregion)
		if err := m.download(ctx, region, subregion, pbfFile, md5File); err != nil {
			return "", err
		}
		if err := archivePair(pbfFile, md5File, pbfFileWithDate, md5FileWithDate); err != nil {
			return "", err
		}
	} else {
		m.log.Info("copying archived files", "pbf", pbfFileWithDate)
		if err := restorePair(pbfFile, md5File, pbfFileWithDate, md5FileWithDate); err != nil {
			return "", err
		}
	}

	if err := m.verifyChecksum(ctx, md5File); err != nil {
		return "", err
	}

	return pbfFile, nil
}

// downloadNeeded decides whether the PBF/MD5 pair must be fetched. The dated
// pair acts as the cache key; a historical date with an incomplete pair is
// fatal because historical data is never re-downloaded.
func (m *Manager) downloadNeeded(pbfFileWithDate, md5FileWithDate, date string) (bool, error) {
	if fileExists(pbfFileWithDate) {
		m.log.Info("PBF file exists", "path", pbfFileWithDate)

		if fileExists(md5FileWithDate) {
			m.log.Info("PBF and MD5 files exist, download not needed")
			return false, nil
		}
		if date == m.today() {
			m.log.Info("PBF for today available but not MD5, download needed")
			return true, nil
		}
		m.log.Error("missing MD5 file, cannot validate", "date", date)
		return false, &MissingArtifactError{Path: md5FileWithDate, Date: date}
	}

	if date != m.today() {
		m.log.Error("missing PBF file, cannot proceed", "date", date)
		return false, &MissingArtifactError{Path: pbfFileWithDate, Date: date}
	}

	m.log.Info("PBF file not found locally, download required")
	return true, nil
}

// download fetches the PBF and its MD5 from the mirror into the "-latest"
// paths.
func (m *Manager) download(ctx context.Context, region, subregion, pbfFile, md5File string) error {
	pbfURL := naming.PBFURL(region, subregion)

	m.log.Info("downloading PBF data", "url", pbfURL, "dest", pbfFile)
	if _, err := m.runner.Run(ctx, invoke.Command{
		Name: "wget",
		Args: []string{pbfURL, "-O", pbfFile, "--quiet"},
	}); err != nil {
		return &DownloadError{URL: pbfURL, Cause: err}
	}

	md5URL := pbfURL + ".md5"
	m.log.Info("downloading MD5 checksum", "url", md5URL, "dest", md5File)
	if _, err := m.runner.Run(ctx, invoke.Command{
		Name: "wget",
		Args: []string{md5URL, "-O", md5File, "--quiet"},
	}); err != nil {
		return &DownloadError{URL: md5URL, Cause: err}
	}

	return nil
}

// verifyChecksum runs md5sum against the checksum file. The MD5 file names
// its payload relative to the output directory, so that is the working
// directory.
func (m *Manager) verifyChecksum(ctx context.Context, md5File string) error {
	out, err := m.runner.Run(ctx, invoke.Command{
		Name: "md5sum",
		Args: []string{"-c", md5File},
		Dir:  m.outPath,
	})
	if err != nil {
		return &ChecksumError{File: md5File, Output: out, Cause: err}
	}
	m.log.Info("checksum verified", "md5", md5File)
	return nil
}

// RemoveLatest deletes the "-latest" PBF and MD5 working copies after the
// import is done. The dated archive copies survive as the durable cache.
func (m *Manager) RemoveLatest(region, subregion string) error {
	pbfFile := filepath.Join(m.outPath, naming.RegionFilename(region, subregion))
	md5File := pbfFile + ".md5"

	m.log.Info("removing file", "path", pbfFile)
	if err := os.Remove(pbfFile); err != nil {
		return fmt.Errorf("failed to remove %s: %w", pbfFile, err)
	}
	m.log.Info("removing file", "path", md5File)
	if err := os.Remove(md5File); err != nil {
		return fmt.Errorf("failed to remove %s: %w", md5File, err)
	}
	return nil
}

// archivePair copies the freshly downloaded pair to its date-stamped names.
// Archive copies are write-once: an existing dated file is never clobbered.
// The two copies are sequential; a crash between them leaves a payload-only
// archive that a later historical run will reject.
func archivePair(pbfFile, md5File, pbfFileWithDate, md5FileWithDate string) error {
	if err := copyIfAbsent(pbfFile, pbfFileWithDate); err != nil {
		return err
	}
	return copyIfAbsent(md5File, md5FileWithDate)
}

// restorePair copies the date-stamped pair back onto the "-latest" names,
// overwriting any stale working copy.
func restorePair(pbfFile, md5File, pbfFileWithDate, md5FileWithDate string) error {
	if err := copyOverwrite(pbfFileWithDate, pbfFile); err != nil {
		return err
	}
	return copyOverwrite(md5FileWithDate, md5File)
}

func copyIfAbsent(src, dst string) error {
	if fileExists(dst) {
		return nil
	}
	return copyOverwrite(src, dst)
}

func copyOverwrite(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
