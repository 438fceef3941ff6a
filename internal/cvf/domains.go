/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package cvf

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
)

type dataInsights struct {
	RowCount     int      `json:"row_count"`
	MetricCount  int      `json:"metric_count"`
	ChecksumFile string   `json:"checksum_manifest"`
	Files        []string `json:"files"`
}

// validateData checks row count, metric count, and the checksum manifest
// against the files it lists (spec.md §4.4 step 3(d) "data").
func (g *Gate) validateData(auvDir string) Detail {
	path := filepath.Join(auvDir, "data", "insights.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return fail(DomainData, "insights.json missing")
	}
	var ins dataInsights
	if err := json.Unmarshal(raw, &ins); err != nil {
		return fail(DomainData, "invalid insights.json")
	}
	if ins.RowCount <= 0 {
		return fail(DomainData, "row_count must be positive")
	}
	if ins.MetricCount <= 0 {
		return fail(DomainData, "metric_count must be positive")
	}
	if ins.ChecksumFile == "" {
		return fail(DomainData, "checksum_manifest not declared")
	}
	manifestPath := filepath.Join(auvDir, "data", ins.ChecksumFile)
	manifestRaw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fail(DomainData, "checksum manifest missing")
	}
	var checksums map[string]string
	if err := json.Unmarshal(manifestRaw, &checksums); err != nil {
		return fail(DomainData, "invalid checksum manifest")
	}
	for _, f := range ins.Files {
		sum, ok := checksums[f]
		if !ok {
			return fail(DomainData, "checksum manifest missing entry for "+f)
		}
		actual, err := sha256File(filepath.Join(auvDir, "data", f))
		if err != nil {
			return fail(DomainData, "data file missing: "+f)
		}
		if actual != sum {
			return fail(DomainData, "checksum mismatch for "+f)
		}
	}
	return pass(DomainData)
}

func sha256File(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// validateCharts checks PNG dimensions across the chart set (spec.md §4.4
// step 3(d) "charts"): every chart must be at least 32x32, and a set of
// more than one chart fails when all share the same dimensions. Pixel
// content is not decoded or compared.
func (g *Gate) validateCharts(auvDir string) Detail {
	dir := filepath.Join(auvDir, "charts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fail(DomainCharts, "charts directory missing")
	}

	var pngs []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".png" {
			pngs = append(pngs, e.Name())
		}
	}
	if len(pngs) == 0 {
		return fail(DomainCharts, "no chart PNGs found")
	}

	seen := map[string]bool{}
	for _, name := range pngs {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return fail(DomainCharts, "cannot open "+name)
		}
		cfg, err := png.DecodeConfig(f)
		f.Close()
		if err != nil {
			return fail(DomainCharts, "invalid PNG "+name)
		}
		if cfg.Width < 32 || cfg.Height < 32 {
			return fail(DomainCharts, name+" is smaller than the minimum chart dimensions")
		}
		dims := dimsKey(cfg.Width, cfg.Height)
		seen[dims] = true
	}
	if len(pngs) > 1 && len(seen) == 1 {
		return fail(DomainCharts, "all charts share identical dimensions, suggesting a single duplicated image")
	}
	return pass(DomainCharts)
}

func dimsKey(w, h int) string {
	return fmt.Sprintf("%dx%d", w, h)
}

type seoAudit struct {
	BrokenLinks      int      `json:"broken_links"`
	PagesAudited     int      `json:"pages_audited"`
	CanonicalPresent int      `json:"canonical_present"`
	MissingMeta      []string `json:"missing_meta"`
	MissingOG        []string `json:"missing_og"`
}

// validateSEO checks broken-link count, canonical coverage, and required
// meta/OG tags (spec.md §4.4 step 3(d) "seo").
func (g *Gate) validateSEO(auvDir string) Detail {
	path := filepath.Join(auvDir, "reports", "seo", "audit.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return fail(DomainSEO, "seo audit.json missing")
	}
	var a seoAudit
	if err := json.Unmarshal(raw, &a); err != nil {
		return fail(DomainSEO, "invalid seo audit.json")
	}
	if a.BrokenLinks > 0 {
		return fail(DomainSEO, "broken links found")
	}
	if a.PagesAudited > 0 && a.CanonicalPresent < a.PagesAudited {
		return fail(DomainSEO, "canonical tag missing on one or more pages")
	}
	if len(a.MissingMeta) > 0 {
		return fail(DomainSEO, "required meta tags missing")
	}
	if len(a.MissingOG) > 0 {
		return fail(DomainSEO, "required OG tags missing")
	}
	return pass(DomainSEO)
}

type mediaMetadata struct {
	ExpectedDurationMS int     `json:"expected_duration_ms"`
	ActualDurationMS    int     `json:"actual_duration_ms"`
	HasAudioTrack       bool    `json:"has_audio_track"`
	WidthPx             int     `json:"width_px"`
	HeightPx            int     `json:"height_px"`
}

// maxDurationVariance is the fraction of expected duration a composed
// media artifact may deviate by before it is treated as a defect.
const maxDurationVariance = 0.1

// validateMedia checks duration variance, audio-track presence, and
// resolution (spec.md §4.4 step 3(d) "media").
func (g *Gate) validateMedia(auvDir string) Detail {
	path := filepath.Join(auvDir, "media", "compose-metadata.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return fail(DomainMedia, "compose-metadata.json missing")
	}
	var m mediaMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return fail(DomainMedia, "invalid compose-metadata.json")
	}
	if m.ExpectedDurationMS > 0 {
		variance := absInt(m.ActualDurationMS-m.ExpectedDurationMS) / float64(m.ExpectedDurationMS)
		if variance > maxDurationVariance {
			return fail(DomainMedia, "actual duration deviates from expected beyond tolerance")
		}
	}
	if !m.HasAudioTrack {
		return fail(DomainMedia, "no audio track present")
	}
	if m.WidthPx < 640 || m.HeightPx < 360 {
		return fail(DomainMedia, "resolution below minimum")
	}
	return pass(DomainMedia)
}

func absInt(v int) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}

type dbMigrationResult struct {
	Engine               string  `json:"engine"`
	AppliedCount          int     `json:"applied_count"`
	FailedCount           int     `json:"failed_count"`
	ValidationQueryPassRate float64 `json:"validation_query_pass_rate"`
}

// validateDB checks engine, applied/failed counts, and validation-query
// pass rate (spec.md §4.4 step 3(d) "db").
func (g *Gate) validateDB(auvDir string) Detail {
	path := filepath.Join(auvDir, "db", "migration-result.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return fail(DomainDB, "migration-result.json missing")
	}
	var r dbMigrationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return fail(DomainDB, "invalid migration-result.json")
	}
	if r.Engine == "" {
		return fail(DomainDB, "engine not declared")
	}
	if r.FailedCount > 0 {
		return fail(DomainDB, "one or more migrations failed")
	}
	if r.AppliedCount <= 0 {
		return fail(DomainDB, "no migrations applied")
	}
	if r.ValidationQueryPassRate < 1.0 {
		return fail(DomainDB, "validation queries did not all pass")
	}
	return pass(DomainDB)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func dirHasPNGs(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".png" {
			return true
		}
	}
	return false
}
