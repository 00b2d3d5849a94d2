package runner

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	gos3 "roachplane/pkg/s3"
)

// Forensics uploads the working directory of a failed run to cloud storage
// as a zstd-compressed tarball so operators can inspect what the engine left
// behind.
type Forensics struct {
	client   *gos3.Client
	settings SettingsSource
	logger   *log.Logger
}

// NewForensics creates a Forensics uploader.
func NewForensics(client *gos3.Client, settings SettingsSource, logger *log.Logger) *Forensics {
	if logger == nil {
		logger = log.Default()
	}
	return &Forensics{client: client, settings: settings, logger: logger}
}

// Archive packs dir and uploads it under forensics/job-<id>.tar.zst in the
// bucket named by the cloud_storage_url setting. Failures are logged, never
// propagated: forensics must not change a job's outcome.
func (f *Forensics) Archive(ctx context.Context, jobID int64, dir string) {
	if f == nil || f.client == nil {
		return
	}

	bucket, prefix, err := f.storageLocation(ctx)
	if err != nil {
		f.logger.Printf("ERROR job %d: forensics location: %v", jobID, err)
		return
	}

	var buf bytes.Buffer
	if err := packDir(dir, &buf); err != nil {
		f.logger.Printf("ERROR job %d: pack workdir: %v", jobID, err)
		return
	}

	key := path(prefix, fmt.Sprintf("forensics/job-%d.tar.zst", jobID))
	if err := f.client.PutObject(ctx, bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		f.logger.Printf("ERROR job %d: upload forensics: %v", jobID, err)
		return
	}
	f.logger.Printf("INFO job %d: archived workdir to %s/%s", jobID, bucket, key)

	if link, err := f.client.PresignGet(ctx, bucket, key, 24*time.Hour); err == nil {
		f.logger.Printf("INFO job %d: forensics download %s", jobID, link)
	}
}

func (f *Forensics) storageLocation(ctx context.Context) (bucket, prefix string, err error) {
	raw, err := f.settings.GetSetting(ctx, "cloud_storage_url")
	if err != nil {
		return "", "", err
	}
	return ParseStorageURL(raw)
}

// ParseStorageURL splits an s3://bucket/prefix URL into its parts.
func ParseStorageURL(raw string) (bucket, prefix string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("cloud_storage_url is not configured")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse cloud_storage_url: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("cloud_storage_url %q has no bucket", raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

func path(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func packDir(dir string, out io.Writer) error {
	zw, err := zstd.NewWriter(out)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	err = filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		file, err := os.Open(p)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}
