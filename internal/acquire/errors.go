package acquire

import "fmt"

// MissingArtifactError reports a historical run whose dated PBF/MD5 pair is
// absent. Downloads are only permitted for today's date, so this is fatal.
type MissingArtifactError struct {
	Path string
	Date string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("missing artifact for %s: %s (historical data is never re-downloaded)", e.Date, e.Path)
}

// DownloadError reports a failed download of the PBF or MD5 file.
type DownloadError struct {
	URL   string
	Cause error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of %s failed: %v", e.URL, e.Cause)
}

func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// ChecksumError reports an MD5 verification failure. The import must never
// run on unverified data.
type ChecksumError struct {
	File   string
	Output string
	Cause  error
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s: %v\n%s", e.File, e.Cause, e.Output)
}

func (e *ChecksumError) Unwrap() error {
	return e.Cause
}
