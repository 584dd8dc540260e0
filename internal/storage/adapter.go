package storage

import (
	"context"
	"os"
	"strings"

	"github.com/sitewarden/crawler/internal/compare"
	"github.com/sitewarden/crawler/internal/worker"
)

// PageStore implements worker.Store over Database and SnapshotWriter: the
// sqlite rows hold hashes and pointers, the snapshot file holds the
// normalized text the Open Question decision in DESIGN.md resolves BASELINE
// mode to persist.
type PageStore struct {
	DB          *Database
	Snapshots   *SnapshotWriter
	CustomerID  int64
	NormVersion string
}

func (s *PageStore) SaveCrawlPage(ctx context.Context, page worker.CrawlPage) error {
	return s.DB.SaveCrawlPageRow(ctx, CrawlPageRow{
		JobID:          page.JobID,
		SiteID:         page.SiteID,
		URL:            page.CanonicalURL,
		ParentURL:      page.ParentURL,
		StatusCode:     page.StatusCode,
		ContentType:    page.ContentType,
		ContentLength:  page.ContentLength,
		ResponseTimeMs: page.ResponseTimeMs,
		FetchedAt:      page.FetchedAt,
	})
}

func (s *PageStore) SaveBaseline(ctx context.Context, pv worker.PageVersion) error {
	path, err := s.Snapshots.Write(s.CustomerID, pv.SiteID, pv.CanonicalURL, pv.ContentHash, pv.NormalizedText)
	if err != nil {
		return err
	}
	return s.DB.SaveBaselineRow(ctx, BaselineRow{
		SiteID:         pv.SiteID,
		URL:            pv.CanonicalURL,
		HTMLHash:       pv.ContentHash,
		StructuralHash: pv.StructuralHash,
		NormVersion:    pv.NormVersion,
		SnapshotPath:   path,
		TagPaths:       pv.TagPaths,
		ScriptSrcs:     pv.ScriptSrcs,
	})
}

func (s *PageStore) LoadBaseline(ctx context.Context, siteID int64, canonicalURL string) (*worker.PageVersion, bool, error) {
	row, found, err := s.DB.LoadBaselineRow(ctx, siteID, canonicalURL, s.NormVersion)
	if err != nil || !found {
		return nil, found, err
	}

	text, err := readSnapshot(row.SnapshotPath)
	if err != nil {
		return nil, false, err
	}

	return &worker.PageVersion{
		SiteID:         row.SiteID,
		CanonicalURL:   row.URL,
		NormalizedText: text,
		ContentHash:    row.HTMLHash,
		StructuralHash: row.StructuralHash,
		TagPaths:       row.TagPaths,
		ScriptSrcs:     row.ScriptSrcs,
		NormVersion:    row.NormVersion,
		CreatedAt:      row.CreatedAt,
	}, true, nil
}

func (s *PageStore) SaveVerdict(ctx context.Context, v worker.Verdict) error {
	if v.Status == compare.StatusClean {
		return nil
	}
	return s.DB.SaveDiffEvidence(ctx, DiffEvidenceRow{
		SiteID:       v.SiteID,
		URL:          v.CanonicalURL,
		BaselineHash: v.BaselineHash,
		ObservedHash: v.ObservedHash,
		DiffSummary:  MarshalDiffSummary(v.Verdict),
		Severity:     string(v.Severity),
		Status:       string(v.Status),
	})
}

// readSnapshot loads the normalized text a baseline was written with.
// TagPaths/ScriptSrcs are not recoverable from this file (it holds
// normalizer output, not the tag tree the fingerprint was taken from) and
// are instead carried on the baselines row itself.
func readSnapshot(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}
